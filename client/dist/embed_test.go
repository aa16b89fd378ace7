package clientdist

import (
	"strings"
	"testing"
)

func TestTeowebJS_ClickNeedsOpenSocket(t *testing.T) {
	js := string(TeowebJS)

	handler := strings.Index(js, `addEventListener("click"`)
	if handler < 0 {
		t.Fatal("click handler not found")
	}
	body := js[handler:]
	guard := strings.Index(body, "ws.readyState !== WebSocket.OPEN) return;")
	prevent := strings.Index(body, "e.preventDefault()")
	if guard < 0 || prevent < 0 || guard > prevent {
		t.Error("click handler must fall back to the form post unless the socket is open")
	}
}

func TestTeowebJS_PatchOps(t *testing.T) {
	js := string(TeowebJS)
	for _, op := range []string{"OP_SET_TEXT = 0x01", "OP_ADD_CLASS = 0x10", "OP_REMOVE_CLASS = 0x11", "OP_SET_HTML = 0x16"} {
		if !strings.Contains(js, op) {
			t.Errorf("client is missing %s", op)
		}
	}
}
