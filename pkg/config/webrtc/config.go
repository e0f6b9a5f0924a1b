package webrtc

type Webrtc struct {
	DisableDefaultInterceptors bool
	IceServers                 []IceServer
	IcePorts                   struct {
		Min uint16
		Max uint16
	}
	IceIpMap string
	LogLevel int
}

type IceServer struct {
	Urls       string `json:"urls,omitempty"`
	Username   string `json:"username,omitempty"`
	Credential string `json:"credential,omitempty"`
}

func (w *Webrtc) HasPortRange() bool { return w.IcePorts.Min > 0 && w.IcePorts.Max > 0 }
func (w *Webrtc) HasIceIpMap() bool  { return w.IceIpMap != "" }

func DefaultIceServers() []IceServer {
	return []IceServer{{Urls: "stun:stun.l.google.com:19302"}}
}
