package bus

import (
	"testing"

	"tradeflow/models"
)

func TestPublishDeliversToSubscribers(t *testing.T) {
	b := New()

	var got []interface{}
	unsub := b.Subscribe(TopicFill, func(payload interface{}) {
		got = append(got, payload)
	})
	defer unsub()

	fill := models.FillEvent{Symbol: "BTC/USDT", Side: models.OrderSideBuy, Price: 100, Amount: 1}
	b.Publish(TopicFill, fill)

	if len(got) != 1 {
		t.Fatalf("expected 1 delivery, got %d", len(got))
	}
	if got[0].(models.FillEvent) != fill {
		t.Errorf("payload = %+v, want %+v", got[0], fill)
	}
}

func TestPublishSkipsOtherTopics(t *testing.T) {
	b := New()

	delivered := 0
	unsub := b.Subscribe(TopicError, func(interface{}) { delivered++ })
	defer unsub()

	b.Publish(TopicUpdate, models.StoreData{})
	if delivered != 0 {
		t.Errorf("error subscriber received update topic, deliveries = %d", delivered)
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := New()

	delivered := 0
	unsub := b.Subscribe(TopicError, func(interface{}) { delivered++ })

	b.PublishError("one")
	unsub()
	unsub() // second call is a no-op
	b.PublishError("two")

	if delivered != 1 {
		t.Errorf("deliveries = %d, want 1", delivered)
	}
}

func TestStatsCountPublishAndDelivery(t *testing.T) {
	b := New()

	unsub1 := b.Subscribe(TopicLog, func(interface{}) {})
	unsub2 := b.Subscribe(TopicLog, func(interface{}) {})
	defer unsub1()
	defer unsub2()

	b.PublishLog("hello", models.SeverityInfo)

	stats := b.GetStats()
	if stats.Published != 1 {
		t.Errorf("published = %d, want 1", stats.Published)
	}
	if stats.Delivered != 2 {
		t.Errorf("delivered = %d, want 2", stats.Delivered)
	}
}
