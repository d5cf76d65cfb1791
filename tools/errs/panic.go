package errs

import "fmt"

func ErrPanic(r any) error {
	if r == nil {
		return nil
	}
	return ErrInternal.WrapMsg("panic error", "recover", fmt.Sprint(r))
}
