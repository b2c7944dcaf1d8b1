package protocol

type ResponseType string

const (
	RespOk     ResponseType = "OK"
	RespErr    ResponseType = "ERR"
	RespUpdate ResponseType = "UPDATE"
)

// ServerError is an error reported by the server in an error reply.
type ServerError struct {
	Message string
}

func (e *ServerError) Error() string {
	return e.Message
}

type Response struct {
	Type   ResponseType
	Value  []byte
	Err    error
	Record *FileRecord
}

// ErrorOrNil returns an error if the response contains an error. Otherwise it
// returns nil.
func (r *Response) ErrorOrNil() error {
	if r.Type == RespErr {
		return r.Err
	}

	return nil
}
