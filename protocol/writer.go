package protocol

var (
	// PrefixErr starts every error reply
	PrefixErr = []byte("Error: ")

	// PrefixUpdate starts every update pushed to monitoring clients
	PrefixUpdate = []byte("Notify:")

	MsgInsertOk  = "Success"
	MsgAppendOk  = "Content appended successfully"
	MsgMonitorOk = "Monitoring registration successful"
)

func StringResponse(s string) []byte {
	return MarshalString(s)
}

func ErrorResponse(errMsg string) []byte {
	b := make([]byte, 0, len(PrefixErr)+len(errMsg))
	b = append(b, PrefixErr...)
	return append(b, errMsg...)
}

// UpdateDatagram frames the new state of a file for subscribers.
func UpdateDatagram(record *FileRecord) ([]byte, error) {
	body, err := record.Marshal()
	if err != nil {
		return nil, err
	}

	b := make([]byte, 0, len(PrefixUpdate)+len(body))
	b = append(b, PrefixUpdate...)
	return append(b, body...), nil
}
