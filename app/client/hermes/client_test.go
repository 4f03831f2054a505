package hermes

import "testing"

func TestClient_DisabledIsNoOp(t *testing.T) {
	c := &Client{}

	if c.Enabled() {
		t.Fatal("client without connection must be disabled")
	}
	if err := c.Publish(SubjectSessionFinalized, SessionFinalized{CallerID: "+1"}); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := c.Shutdown(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}

	var nilClient *Client
	if err := nilClient.Publish(SubjectDiagnosisReached, nil); err != nil {
		t.Errorf("nil client must be a no-op, got %v", err)
	}
}
