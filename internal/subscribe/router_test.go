package subscribe

import "testing"

func TestSubscribeMatchesAndReports(t *testing.T) {
	var r = New()
	var _, err = r.Subscribe("ns", "n1", SubscribeData{ClientID: "c1", Filter: "sensor/+/temp", QoS: 1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var matches = r.Matching("sensor/a/temp")
	if len(matches) != 1 || matches[0].ClientID != "c1" {
		t.Fatalf("expected one match for c1, got %+v", matches)
	}
	if got := r.Matching("sensor/a/humidity"); len(got) != 0 {
		t.Fatalf("expected no match, got %+v", got)
	}
}

func TestExclusiveSubscriptionRejectsSecondSubscriber(t *testing.T) {
	var r = New()
	var _, err = r.Subscribe("ns", "n1", SubscribeData{ClientID: "A", Filter: "$exclusive/x", QoS: 0})
	if err != nil {
		t.Fatalf("first exclusive subscribe should succeed: %v", err)
	}
	_, err = r.Subscribe("ns", "n1", SubscribeData{ClientID: "B", Filter: "$exclusive/x", QoS: 0})
	if err != ErrTopicSubscribed {
		t.Fatalf("expected ErrTopicSubscribed, got %v", err)
	}

	r.Unsubscribe("ns", "n1", "A", "$exclusive/x")
	_, err = r.Subscribe("ns", "n1", SubscribeData{ClientID: "B", Filter: "$exclusive/x", QoS: 0})
	if err != nil {
		t.Fatalf("after unsubscribe, B should be able to take the filter: %v", err)
	}
}

func TestIsNewTracksSendOnNewEligibility(t *testing.T) {
	var r = New()
	isNew, _ := r.Subscribe("ns", "n1", SubscribeData{ClientID: "c1", Filter: "a/b", QoS: 0})
	if !isNew {
		t.Fatalf("first subscribe must be new")
	}
	isNew, _ = r.Subscribe("ns", "n1", SubscribeData{ClientID: "c1", Filter: "a/b", QoS: 1})
	if isNew {
		t.Fatalf("re-subscribing without unsubscribe must not be new")
	}
	r.Unsubscribe("ns", "n1", "c1", "a/b")
	isNew, _ = r.Subscribe("ns", "n1", SubscribeData{ClientID: "c1", Filter: "a/b", QoS: 0})
	if !isNew {
		t.Fatalf("resubscribing after unsubscribe must be new again")
	}
}

func TestSharedSubscriptionGroupRoundRobin(t *testing.T) {
	var r = New()
	var data1 = SubscribeData{ClientID: "c1", Filter: "$share/g1/a/b", GroupName: "g1", QoS: 1}
	var data2 = SubscribeData{ClientID: "c2", Filter: "$share/g1/a/b", GroupName: "g1", QoS: 1}
	if _, err := r.Subscribe("ns", "n1", data1); err != nil {
		t.Fatalf("subscribe c1: %v", err)
	}
	if _, err := r.Subscribe("ns", "n1", data2); err != nil {
		t.Fatalf("subscribe c2: %v", err)
	}

	var set, ok = r.SharedGroupFor("ns", "a/b", "g1", "n1")
	if !ok {
		t.Fatalf("expected shared group to exist")
	}
	if set.Size() != 2 {
		t.Fatalf("expected 2 members, got %d", set.Size())
	}

	var first, _ = set.Next()
	var second, _ = set.Next()
	if first == second {
		t.Fatalf("expected round-robin to alternate members, got %s twice", first)
	}

	set.MarkNotPush(first)
	var third, ok3 = set.Next()
	if !ok3 || third != second {
		t.Fatalf("expected not-push member to be skipped, got %s ok=%v", third, ok3)
	}
}

func TestSharedSubscriptionMatchUsesBareFilter(t *testing.T) {
	var r = New()
	if _, err := r.Subscribe("ns", "n1", SubscribeData{ClientID: "c1", Filter: "$share/g1/a/+", GroupName: "g1", QoS: 0}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	var matches = r.Matching("a/b")
	if len(matches) != 1 {
		t.Fatalf("expected shared filter to match via its bare path, got %+v", matches)
	}
}

func TestRemoveClientDropsAllSubscriptions(t *testing.T) {
	var r = New()
	r.Subscribe("ns", "n1", SubscribeData{ClientID: "c1", Filter: "a/b", QoS: 0})
	r.Subscribe("ns", "n1", SubscribeData{ClientID: "c1", Filter: "c/d", QoS: 0})
	r.RemoveClient("ns", "n1", "c1")

	if _, ok := r.ClientSubscription("c1", "a/b"); ok {
		t.Fatalf("expected subscription to be removed")
	}
	if _, ok := r.ClientSubscription("c1", "c/d"); ok {
		t.Fatalf("expected subscription to be removed")
	}
}
