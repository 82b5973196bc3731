package kerrors

import "testing"

func TestStringKnown(t *testing.T) {
	cases := []struct {
		e    Err_t
		want string
	}{
		{AccessDenied, "access denied"},
		{NoMemory, "no memory"},
		{KVirtAreaAllocError, "kernel virtual area allocation error"},
		{Interrupted, "interrupted"},
	}
	for _, c := range cases {
		if got := c.e.String(); got != c.want {
			t.Errorf("%d.String() = %q, want %q", c.e, got, c.want)
		}
	}
}

func TestErrorMatchesString(t *testing.T) {
	if AccessDenied.Error() != AccessDenied.String() {
		t.Fatal("Error() and String() diverged")
	}
}

func TestErrnoTranslation(t *testing.T) {
	if Errno(NoMemory) != 12 {
		t.Errorf("Errno(NoMemory) = %d, want 12 (ENOMEM)", Errno(NoMemory))
	}
	if Errno(InvalidArgs) != 22 {
		t.Errorf("Errno(InvalidArgs) = %d, want 22 (EINVAL)", Errno(InvalidArgs))
	}
	if Errno(Interrupted) != 4 {
		t.Errorf("Errno(Interrupted) = %d, want 4 (EINTR)", Errno(Interrupted))
	}
}

func TestUnknownValueDoesNotPanic(t *testing.T) {
	var e Err_t = -999
	if e.String() == "" {
		t.Fatal("expected a fallback string for unknown Err_t")
	}
}
