package stdlogadapter

import (
	"bytes"
	"log"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStdLogger(t *testing.T) {
	var buf bytes.Buffer
	l := New(log.New(&buf, "", 0))

	l.Debugf("hidden %d", 1)
	l.Infof("unblocked %s", "1.2.3.4")
	l.Warnf("store down: %v", "timeout")
	l.Errorf("boom")

	assert.Equal(t, "[INFO] unblocked 1.2.3.4\n[WARN] store down: timeout\n[ERROR] boom\n", buf.String())

	buf.Reset()
	l.WithDebug(true).Debugf("attempt %d/%d", 2, 5)
	assert.Equal(t, "[DEBUG] attempt 2/5\n", buf.String())
}

func TestStdLogger_DefaultLogger(t *testing.T) {
	assert.NotNil(t, New(nil).logger)
}
