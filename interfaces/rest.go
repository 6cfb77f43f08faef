package interfaces

const (
	// DefaultRESTPrefix is the endpoint prefix of the REST object store.
	DefaultRESTPrefix = "/dbfs"

	// ErrorCodeResourceDoesNotExist is the list-response sentinel for a
	// missing target.
	ErrorCodeResourceDoesNotExist = "RESOURCE_DOES_NOT_EXIST"

	// ErrorCodeInvalidParameterValue is returned for requests the store
	// cannot serve, such as reading a directory as a file.
	ErrorCodeInvalidParameterValue = "INVALID_PARAMETER_VALUE"

	// ListQueryParam turns a GET into a directory listing.
	ListQueryParam = "list"
)

// RESTListResponse is the body returned by GET <endpoint>?list and by
// failed requests.
type RESTListResponse struct {
	ErrorCode string          `json:"error_code,omitempty"`
	Message   string          `json:"message,omitempty"`
	Files     []RESTFileEntry `json:"files,omitempty"`
}

// RESTFileEntry is one entry of a RESTListResponse. Path is the medium path
// without the endpoint prefix.
type RESTFileEntry struct {
	Path     string `json:"path"`
	IsDir    bool   `json:"is_dir"`
	FileSize int64  `json:"file_size"`
}
