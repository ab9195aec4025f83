package record

// OpError ties a failure to the server and the operation that was attempted.
type OpError struct {
	Op   string
	Name string
	Err  error
}

func (e *OpError) Error() string {
	if e.Name == "" {
		return e.Op + ": " + e.Err.Error()
	}
	return e.Op + " " + e.Name + ": " + e.Err.Error()
}

func (e *OpError) Unwrap() error { return e.Err }

// WrapOp wraps err unless it is nil or already an OpError for the same op and name.
func WrapOp(op, name string, err error) error {
	if err == nil {
		return nil
	}
	if oe, ok := err.(*OpError); ok && oe.Op == op && oe.Name == name {
		return err
	}
	return &OpError{Op: op, Name: name, Err: err}
}
