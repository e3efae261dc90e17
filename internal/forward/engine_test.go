package forward

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestEngineListenDispatch(t *testing.T) {
	e := NewEngine()

	t.Run("TCP listen string binds a TCP listener", func(t *testing.T) {
		l, err := e.listen("127.0.0.1:0")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		defer l.Close()
		if l.Addr().Network() != "tcp" {
			t.Errorf("expected tcp listener, got %s", l.Addr().Network())
		}
	})

	t.Run("a leading slash binds a unix listener", func(t *testing.T) {
		dir := t.TempDir()
		sockPath := filepath.Join(dir, "engine-test.sock")

		l, err := e.listen(sockPath)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		defer l.Close()
		defer os.Remove(sockPath)

		if l.Addr().Network() != "unix" {
			t.Errorf("expected unix listener, got %s", l.Addr().Network())
		}
	})

	t.Run("an invalid bind address surfaces ErrCanNotBindListenEndpoint", func(t *testing.T) {
		_, err := e.listen("not-a-valid-address:::")
		if err == nil {
			t.Fatal("expected an error for an invalid TCP address")
		}
		if !errors.Is(err, ErrCanNotBindListenEndpoint) {
			t.Errorf("expected ErrCanNotBindListenEndpoint, got %v", err)
		}
	})
}
