package kafka

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/tarungka/opwire/channel"
)

func TestParseConfig(t *testing.T) {
	tests := []struct {
		name    string
		spec    channel.Spec
		want    Config
		wantErr bool
	}{
		{
			name: "location only",
			spec: channel.Spec{Name: "c", Location: "kafka://b1:9092, b2:9092", Options: channel.Options{MaxBatch: 50}},
			want: Config{Brokers: []string{"b1:9092", "b2:9092"}, ClientID: "opwire", Partitions: 1, ReplicationFactor: 1, PollRecords: 50},
		},
		{
			name: "config overrides",
			spec: channel.Spec{Name: "c", Location: "ignored:1", Config: map[string]any{
				"brokers":            []any{"k:9092"},
				"client_id":          "op-a",
				"replication_factor": 3,
				"poll_records":       10,
			}},
			want: Config{Brokers: []string{"k:9092"}, ClientID: "op-a", Partitions: 1, ReplicationFactor: 3, PollRecords: 10},
		},
		{
			name:    "no brokers",
			spec:    channel.Spec{Name: "c"},
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseConfig(tt.spec)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRecordConversion(t *testing.T) {
	ts := time.UnixMilli(1700000000000)
	in := channel.Record{
		Key:       []byte("k"),
		Value:     []byte("v"),
		Headers:   map[string]string{"h": "1"},
		Timestamp: ts,
	}
	kr := toKgo("topic", in)
	assert.Equal(t, "topic", kr.Topic)
	require.Len(t, kr.Headers, 1)
	assert.Equal(t, "h", kr.Headers[0].Key)

	kr.Offset = 7
	out := fromKgo(kr)
	assert.Equal(t, in.Key, out.Key)
	assert.Equal(t, in.Value, out.Value)
	assert.Equal(t, in.Headers, out.Headers)
	assert.EqualValues(t, 7, out.Offset)
	assert.True(t, ts.Equal(out.Timestamp))
}

func TestOffsetsOf(t *testing.T) {
	results := kgo.ProduceResults{
		{Record: &kgo.Record{Offset: 11}},
		{Record: &kgo.Record{Offset: 10}},
		{Record: &kgo.Record{Offset: 12}},
	}
	assert.Equal(t, channel.OffsetsWritten{First: 10, Last: 12, Count: 3}, offsetsOf(results))
	assert.Equal(t, channel.OffsetsWritten{}, offsetsOf(nil))
}

func TestFetchErr(t *testing.T) {
	boom := errors.New("boom")
	fetch := func(err error) kgo.Fetches {
		return kgo.Fetches{{Topics: []kgo.FetchTopic{{
			Topic:      "t",
			Partitions: []kgo.FetchPartition{{Partition: 0, Err: err}},
		}}}}
	}

	assert.NoError(t, fetchErr(fetch(nil)))
	assert.ErrorIs(t, fetchErr(fetch(context.DeadlineExceeded)), context.DeadlineExceeded)
	assert.ErrorIs(t, fetchErr(fetch(boom)), boom)
}

func TestFactory_Registered(t *testing.T) {
	assert.Contains(t, channel.Backends(), Backend)

	r, err := channel.NewReader(Backend, channel.Spec{Name: "p.op.in", Context: "op", Location: "localhost:9092", Logger: zerolog.Nop()})
	require.NoError(t, err)
	assert.False(t, r.IsOpen())

	_, err = channel.NewWriter(Backend, channel.Spec{Name: "p.op.in", Context: "src", Logger: zerolog.Nop()})
	assert.Error(t, err, "writer without brokers")
}

func TestCommittedOffset(t *testing.T) {
	resp := func(at int64, err error) kadm.OffsetResponses {
		return kadm.OffsetResponses{"t": {0: {Offset: kadm.Offset{Topic: "t", Partition: 0, At: at}, Err: err}}}
	}
	tests := []struct {
		name    string
		resps   kadm.OffsetResponses
		want    int64
		found   bool
		wantErr error
	}{
		{"not listed", kadm.OffsetResponses{}, 0, false, nil},
		{"no commit", resp(-1, nil), 0, false, nil},
		{"committed", resp(42, nil), 42, true, nil},
		{"fetch error wins over missing offset", resp(-1, kerr.GroupAuthorizationFailed), 0, false, kerr.GroupAuthorizationFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			off, found, err := committedOffset(tt.resps, "t")
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tt.want, off)
			assert.Equal(t, tt.found, found)
		})
	}
}
