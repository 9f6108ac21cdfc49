package broker

// ssoValidateResponse is the shape of GET /sso/validate.
type ssoValidateResponse struct {
	UserID string `json:"USER_ID"`
	Error  any    `json:"_ERROR"`
}

func (r ssoValidateResponse) ok() bool {
	return r.Error == nil && r.UserID != ""
}

// iserverAuthStatusResponse is the shape of GET /iserver/auth/status.
type iserverAuthStatusResponse struct {
	Authenticated bool `json:"authenticated"`
	Connected     bool `json:"connected"`
	Error         any  `json:"_ERROR"`
}

// hasTransportError reports whether the status response carries an _ERROR
// payload: a missing key (decoded as nil) or a literal false means no error;
// a literal true or any other value (e.g. an error string) means an error.
func (r iserverAuthStatusResponse) hasTransportError() bool {
	switch v := r.Error.(type) {
	case nil:
		return false
	case bool:
		return v
	default:
		return true
	}
}

// historyPoint is one bar returned by the history endpoint.
type historyPoint struct {
	T float64 `json:"t"`
	O float64 `json:"o"`
	H float64 `json:"h"`
	L float64 `json:"l"`
	C float64 `json:"c"`
	V float64 `json:"v"`
}

type historyResponse struct {
	Data []historyPoint `json:"data"`
}
