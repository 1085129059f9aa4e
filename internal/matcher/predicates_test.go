package matcher

import (
	"slices"
	"testing"

	"github.com/Adithya-Monish-Kumar-K/proximity-matcher/internal/filters"
)

func TestNetworkReach(t *testing.T) {
	np := networkPopulations{
		same:       NewSet("same"),
		anySend:    NewSet("sender"),
		anyReceive: NewSet("receiver"),
	}
	tests := []struct {
		name        string
		nf          *filters.NetworksFilter
		wantSend    []string
		wantReceive []string
	}{
		{"nil filter", nil, []string{"receiver", "same"}, []string{"same", "sender"}},
		{"inactive", &filters.NetworksFilter{Flags: filters.Flags{Send: true, Receive: true}}, []string{"receiver", "same"}, []string{"same", "sender"}},
		{"any network", &filters.NetworksFilter{Flags: gated, AnyNetwork: true}, []string{"receiver", "same"}, []string{"same", "sender"}},
		{"fully gated", &filters.NetworksFilter{Flags: gated}, []string{"same"}, []string{"same"}},
		{"send disabled", &filters.NetworksFilter{Flags: filters.Flags{Active: true, Receive: true}}, []string{"receiver", "same"}, []string{"same"}},
		{"receive disabled", &filters.NetworksFilter{Flags: filters.Flags{Active: true, Send: true}}, []string{"same"}, []string{"same", "sender"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := np.sendReach(tt.nf).Sorted(); !slices.Equal(got, tt.wantSend) {
				t.Errorf("send = %v, want %v", got, tt.wantSend)
			}
			if got := np.receiveReach(tt.nf).Sorted(); !slices.Equal(got, tt.wantReceive) {
				t.Errorf("receive = %v, want %v", got, tt.wantReceive)
			}
		})
	}
}

func TestModeReach(t *testing.T) {
	mp := modePopulations{
		send: map[string]Set{
			"general": NewSet("g-send"),
			"kids":    NewSet("k-send"),
		},
		receive: map[string]Set{
			"general": NewSet("g-recv"),
			"kids":    NewSet("k-recv"),
		},
	}
	selected := []string{"general", "kids"}
	kidsItem := []filters.ModeItem{{Item: filters.Item{Active: true}, ModeToken: "kids"}}

	tests := []struct {
		name        string
		mf          *filters.ModesFilter
		wantSend    []string
		wantReceive []string
	}{
		{
			name:        "inactive counts presence both ways",
			mf:          nil,
			wantSend:    []string{"g-recv", "g-send", "k-recv", "k-send"},
			wantReceive: []string{"g-recv", "g-send", "k-recv", "k-send"},
		},
		{
			name:        "active send gated by item",
			mf:          &filters.ModesFilter{Flags: filters.Flags{Active: true, Send: true}, Items: kidsItem},
			wantSend:    []string{"k-recv"},
			wantReceive: []string{"g-send", "k-send"},
		},
		{
			name: "negated item does not count",
			mf: &filters.ModesFilter{Flags: gated, Items: []filters.ModeItem{
				{Item: filters.Item{Active: true, Negative: true}, ModeToken: "kids"},
			}},
			wantSend:    []string{},
			wantReceive: []string{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := mp.sendReach(selected, tt.mf).Sorted(); !slices.Equal(got, tt.wantSend) {
				t.Errorf("send = %v, want %v", got, tt.wantSend)
			}
			if got := mp.receiveReach(selected, tt.mf).Sorted(); !slices.Equal(got, tt.wantReceive) {
				t.Errorf("receive = %v, want %v", got, tt.wantReceive)
			}
		})
	}
}

func TestSetAlgebra(t *testing.T) {
	a := NewSet("x", "y", "z")
	b := NewSet("y", "w")

	if got := a.Union(b).Sorted(); !slices.Equal(got, []string{"w", "x", "y", "z"}) {
		t.Errorf("union = %v", got)
	}
	if got := a.Intersect(b).Sorted(); !slices.Equal(got, []string{"y"}) {
		t.Errorf("intersect = %v", got)
	}
	if got := a.Subtract(b).Sorted(); !slices.Equal(got, []string{"x", "z"}) {
		t.Errorf("subtract = %v", got)
	}
	if len(a) != 3 {
		t.Error("operations must not mutate their receiver")
	}
}
