package comfortcloud

import "encoding/json"

// Wire-level constants for the Comfort Cloud API. The service is picky about
// headers: requests without the expected app version and user agent are
// rejected regardless of the token.
const (
	// DefaultBaseURL is the production Comfort Cloud endpoint.
	DefaultBaseURL = "https://accsmart.panasonic.com"

	// DefaultAppVersion is sent as X-APP-VERSION. Panasonic retires old
	// versions over time; override it in ClientConfig when logins start
	// failing with a version complaint.
	DefaultAppVersion = "1.21.0"

	userAgent        = "G-RAC"
	appType          = "1"
	headerAuth       = "X-User-Authorization"
	headerAppType    = "X-APP-TYPE"
	headerAppVersion = "X-APP-VERSION"
)

type loginRequest struct {
	ID       string `json:"id"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// tokenResponse is returned by both the login and the token refresh call.
type tokenResponse struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	ExpiresIn    int64  `json:"expiresIn"` // seconds
	ClientID     string `json:"clientId"`
}

type apiErrorBody struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type deviceGroupResponse struct {
	GroupCount int           `json:"groupCount"`
	GroupList  []deviceGroup `json:"groupList"`
}

type deviceGroup struct {
	GroupID    int           `json:"groupId"`
	GroupName  string        `json:"groupName"`
	DeviceList []deviceEntry `json:"deviceList"`
}

type deviceEntry struct {
	DeviceGUID   string `json:"deviceGuid"`
	DeviceName   string `json:"deviceName"`
	DeviceType   string `json:"deviceType"`
	ModuleNumber string `json:"deviceModuleNumber"`
}

// deviceStatusResponse carries the parameter block for one device. The raw
// parameters are left undecoded here; the mapper owns that translation.
type deviceStatusResponse struct {
	DeviceGUID string          `json:"deviceGuid"`
	Timestamp  int64           `json:"timestamp"`
	Parameters json.RawMessage `json:"parameters"`
}

type controlRequest struct {
	DeviceGUID string          `json:"deviceGuid"`
	Parameters json.RawMessage `json:"parameters"`
}
