package tracing

import (
	"context"
	"errors"
	"testing"

	"github.com/go-redis/redismock/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHoneycombSetup_Disabled(t *testing.T) {
	db, _ := redismock.NewClientMock()
	defer db.Close()

	shutdown, err := HoneycombSetup(false, "lxcgate-test", db)
	require.NoError(t, err)
	require.NotNil(t, shutdown)
	shutdown()

	shutdown, err = HoneycombSetup(false, "lxcgate-test", nil)
	require.NoError(t, err)
	shutdown()
}

func TestEndSpanWithErrCheck(t *testing.T) {
	_, span := GlobalTracer.Start(context.Background(), "test.ok")
	EndSpanWithErrCheck(span, nil)
	assert.False(t, span.IsRecording())

	_, span = GlobalTracer.Start(context.Background(), "test.err")
	EndSpanWithErrCheck(span, errors.New("boom"))
	assert.False(t, span.IsRecording())
}
