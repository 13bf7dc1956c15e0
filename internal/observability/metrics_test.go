package observability

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestAddAttachmentBytes(t *testing.T) {
	before := testutil.ToFloat64(attachmentBytesTotal)

	AddAttachmentBytes(2048)
	AddAttachmentBytes(512)

	assert.Equal(t, before+2560, testutil.ToFloat64(attachmentBytesTotal))
}

func TestIncAttachmentCleanupFailure(t *testing.T) {
	before := testutil.ToFloat64(attachmentCleanupFailures)

	IncAttachmentCleanupFailure()

	assert.Equal(t, before+1, testutil.ToFloat64(attachmentCleanupFailures))
}
