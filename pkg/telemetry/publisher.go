// Package telemetry republishes push data from the vehicle to MQTT.
package telemetry

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/golang/glog"
	"github.com/golang/protobuf/proto"
	"github.com/golang/protobuf/ptypes/any"

	"github.com/robotalks/flightlink/pkg/cmdset"
	"github.com/robotalks/flightlink/pkg/link"
)

// TypeURLPrefix prefixes the category name in the type URL of published
// messages.
const TypeURLPrefix = "type.robotalks.io/flightlink.push."

// ErrNotPush indicates a message doesn't carry push data.
var ErrNotPush = errors.New("not a push message")

// Queue is where messages are published, satisfied by mqtt.Queue.
type Queue interface {
	Pub(topic string, payload []byte) paho.Token
}

// Sample is the latest data of a category.
type Sample struct {
	Data []byte
	At   time.Time
}

// Publisher is a link.PushHandler publishing each push as a protobuf Any
// to <LinkID>/push/<category>.
type Publisher struct {
	Queue  Queue
	LinkID string

	lock   sync.RWMutex
	latest map[cmdset.Category]Sample
}

// NewPublisher creates a Publisher.
func NewPublisher(q Queue, linkID string) *Publisher {
	return &Publisher{Queue: q, LinkID: linkID, latest: make(map[cmdset.Category]Sample)}
}

// Topic returns the topic of a category.
func (p *Publisher) Topic(cat cmdset.Category) string {
	return p.LinkID + "/push/" + cat.String()
}

// Attach registers the Publisher with the router for the categories, or
// all categories if none is specified. An existing handler of a category
// keeps receiving the data.
func (p *Publisher) Attach(r *link.Router, cats ...cmdset.Category) {
	if len(cats) == 0 {
		cats = cmdset.Categories()
	}
	for _, cat := range cats {
		var h link.PushHandler = p
		if existing := r.Handler(cat); existing != nil {
			h = link.PushMux{existing, p}
		}
		r.Register(cat, h)
	}
}

// HandlePush implements link.PushHandler. It doesn't wait for the publish
// to complete.
func (p *Publisher) HandlePush(ctx context.Context, cat cmdset.Category, data []byte) {
	p.lock.Lock()
	p.latest[cat] = Sample{Data: data, At: time.Now()}
	p.lock.Unlock()

	b, err := Encode(cat, data)
	if err != nil {
		glog.Errorf("encode %s push: %v", cat, err)
		return
	}
	if p.Queue != nil {
		p.Queue.Pub(p.Topic(cat), b)
	}
}

// Latest returns the latest sample of a category.
func (p *Publisher) Latest(cat cmdset.Category) (Sample, bool) {
	p.lock.RLock()
	defer p.lock.RUnlock()
	s, ok := p.latest[cat]
	return s, ok
}

// Encode wraps push data in a protobuf Any.
func Encode(cat cmdset.Category, data []byte) ([]byte, error) {
	return proto.Marshal(&any.Any{TypeUrl: TypeURLPrefix + cat.String(), Value: data})
}

// Decode unwraps a message published by Publisher.
func Decode(b []byte) (cmdset.Category, []byte, error) {
	var msg any.Any
	if err := proto.Unmarshal(b, &msg); err != nil {
		return cmdset.CategoryNone, nil, err
	}
	if !strings.HasPrefix(msg.TypeUrl, TypeURLPrefix) {
		return cmdset.CategoryNone, nil, ErrNotPush
	}
	cat, err := cmdset.ParseCategory(strings.TrimPrefix(msg.TypeUrl, TypeURLPrefix))
	if err != nil {
		return cmdset.CategoryNone, nil, err
	}
	return cat, msg.Value, nil
}
