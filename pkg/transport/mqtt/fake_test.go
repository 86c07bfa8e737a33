package mqtt

import (
	"sync"

	paho "github.com/eclipse/paho.mqtt.golang"
)

type fakeMessage struct {
	paho.Message
	topic   string
	payload []byte
}

func (m *fakeMessage) Topic() string {
	return m.topic
}

func (m *fakeMessage) Payload() []byte {
	return m.payload
}

// fakeClient is an in-process broker, published messages are delivered
// to the subscribed handlers synchronously.
type fakeClient struct {
	paho.Client

	lock      sync.Mutex
	subs      map[string]paho.MessageHandler
	published []string
}

func newFakeClient() *fakeClient {
	return &fakeClient{subs: make(map[string]paho.MessageHandler)}
}

func (c *fakeClient) Connect() paho.Token {
	return &paho.DummyToken{}
}

func (c *fakeClient) Disconnect(uint) {
}

func (c *fakeClient) Subscribe(topic string, qos byte, cb paho.MessageHandler) paho.Token {
	c.lock.Lock()
	c.subs[topic] = cb
	c.lock.Unlock()
	return &paho.DummyToken{}
}

func (c *fakeClient) SubscribeMultiple(filters map[string]byte, cb paho.MessageHandler) paho.Token {
	for topic := range filters {
		c.Subscribe(topic, 0, cb)
	}
	return &paho.DummyToken{}
}

func (c *fakeClient) Unsubscribe(topics ...string) paho.Token {
	c.lock.Lock()
	for _, topic := range topics {
		delete(c.subs, topic)
	}
	c.lock.Unlock()
	return &paho.DummyToken{}
}

func (c *fakeClient) Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token {
	var handlers []paho.MessageHandler
	c.lock.Lock()
	c.published = append(c.published, topic)
	for pattern, h := range c.subs {
		if MatchTopic(topic, pattern) {
			handlers = append(handlers, h)
		}
	}
	c.lock.Unlock()
	msg := &fakeMessage{topic: topic, payload: payload.([]byte)}
	for _, h := range handlers {
		h(c, msg)
	}
	return &paho.DummyToken{}
}

func (c *fakeClient) subscribed(topic string) bool {
	c.lock.Lock()
	defer c.lock.Unlock()
	_, ok := c.subs[topic]
	return ok
}

func (c *fakeClient) publishedTopics() []string {
	c.lock.Lock()
	defer c.lock.Unlock()
	return append([]string(nil), c.published...)
}

func newFakeQueue(prefix string) (*Queue, *fakeClient) {
	c := newFakeClient()
	return &Queue{Client: c, TopicPrefix: prefix}, c
}
