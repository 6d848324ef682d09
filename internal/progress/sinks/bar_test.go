package sinks

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/page-downloader/internal/progress"
)

func TestBarSinkCountsTerminalEvents(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	sink := NewBarSink(&out, 3, "downloading")

	now := time.Now()
	err := sink.Consume(context.Background(), []progress.Event{
		{JobID: "a", TS: now, Stage: progress.StageJobStart},
		{JobID: "a", TS: now, Stage: progress.StageFetchDone},
		{JobID: "a", TS: now, Stage: progress.StageJobDone},
		{JobID: "b", TS: now, Stage: progress.StageJobError},
	})
	require.NoError(t, err)

	assert.Equal(t, int64(2), sink.Current())
	assert.Equal(t, 1, sink.Failed())
	require.NoError(t, sink.Close(context.Background()))
	assert.NotEmpty(t, out.String())
}
