package kafka

import (
	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/tarungka/opwire/channel"
)

func toKgo(topic string, r channel.Record) *kgo.Record {
	kr := &kgo.Record{
		Topic:     topic,
		Key:       r.Key,
		Value:     r.Value,
		Timestamp: r.Timestamp,
	}
	for k, v := range r.Headers {
		kr.Headers = append(kr.Headers, kgo.RecordHeader{Key: k, Value: []byte(v)})
	}
	return kr
}

func fromKgo(kr *kgo.Record) channel.Record {
	r := channel.Record{
		Key:       kr.Key,
		Value:     kr.Value,
		Timestamp: kr.Timestamp,
		Offset:    kr.Offset,
	}
	if len(kr.Headers) > 0 {
		r.Headers = make(map[string]string, len(kr.Headers))
		for _, h := range kr.Headers {
			r.Headers[h.Key] = string(h.Value)
		}
	}
	return r
}

// offsetsOf summarizes produce results in order.
func offsetsOf(results kgo.ProduceResults) channel.OffsetsWritten {
	var res channel.OffsetsWritten
	for _, pr := range results {
		if pr.Record == nil {
			continue
		}
		if res.Count == 0 || pr.Record.Offset < res.First {
			res.First = pr.Record.Offset
		}
		if res.Count == 0 || pr.Record.Offset > res.Last {
			res.Last = pr.Record.Offset
		}
		res.Count++
	}
	return res
}
