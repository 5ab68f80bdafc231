package satclient

// Remote status codes reported by the bulk download service
const (
	remoteStatusAccepted   = "1"
	remoteStatusInProgress = "2"
	remoteStatusReady      = "3"
	remoteStatusError      = "4"
	remoteStatusRejected   = "5"
	remoteStatusExpired    = "6"
)

// submitRequest is the body for registering a bulk export query
type submitRequest struct {
	RFC        string `json:"rfc"`
	DateFrom   string `json:"fechaInicial"`
	DateTo     string `json:"fechaFinal"`
	Direction  string `json:"tipoSolicitud"` // "recibidos" or "emitidos"
	Serial     string `json:"numeroSerie,omitempty"`
	DocfilterP string `json:"tipoComprobante,omitempty"`
}

// submitResponse is the acknowledgement for a registered query
type submitResponse struct {
	RequestID string `json:"idSolicitud"`
	Status    string `json:"codEstatus"`
	Message   string `json:"mensaje"`
}

// verifyResponse reports the preparation progress of a registered query
type verifyResponse struct {
	Status       string   `json:"estadoSolicitud"`
	StatusCode   string   `json:"codEstatus"`
	Message      string   `json:"mensaje"`
	PackageCount int      `json:"numeroCfdis"`
	PackageIDs   []string `json:"idsPaquetes"`
}

// packageResponse carries one prepared package, base64-encoded
type packageResponse struct {
	Status  string `json:"codEstatus"`
	Message string `json:"mensaje"`
	Package string `json:"paquete"`
}
