package matcher

import (
	"github.com/Adithya-Monish-Kumar-K/proximity-matcher/internal/filters"
)

// networkPopulations holds the network sets of the resolved cells.
type networkPopulations struct {
	// same is everyone indexed under the viewer's own network, including
	// people on other networks who opted into it.
	same Set
	// anySend accepts sending to any network.
	anySend Set
	// anyReceive accepts receiving from any network.
	anyReceive Set
}

// opensCrossSend reports whether the viewer may send outside the same-network
// population.
func opensCrossSend(nf *filters.NetworksFilter) bool {
	return nf.WaivesNetworks() || !nf.Send
}

// opensCrossReceive reports whether the viewer may receive from outside the
// same-network population.
func opensCrossReceive(nf *filters.NetworksFilter) bool {
	return nf.WaivesNetworks() || !nf.Receive
}

// sendReach is who the viewer may send to on network grounds. The other
// party's receive gate governs the viewer's send direction.
func (np networkPopulations) sendReach(nf *filters.NetworksFilter) Set {
	if opensCrossSend(nf) {
		return np.same.Union(np.anyReceive)
	}
	return np.same
}

// receiveReach is who may send to the viewer on network grounds.
func (np networkPopulations) receiveReach(nf *filters.NetworksFilter) Set {
	if opensCrossReceive(nf) {
		return np.same.Union(np.anySend)
	}
	return np.same
}

// modePopulations holds, per mode, the send and receive eligibility sets of
// the resolved cells.
type modePopulations struct {
	send    map[string]Set
	receive map[string]Set
}

// sendModes returns the selected modes the viewer may send in. An active
// filter gating sending narrows them to its effective items.
func sendModes(selected []string, mf *filters.ModesFilter) []string {
	if !mf.IsActive() || !mf.Send {
		return selected
	}
	return withEffectiveItem(selected, mf)
}

// receiveModes is sendModes for the receive direction.
func receiveModes(selected []string, mf *filters.ModesFilter) []string {
	if !mf.IsActive() || !mf.Receive {
		return selected
	}
	return withEffectiveItem(selected, mf)
}

func withEffectiveItem(modes []string, mf *filters.ModesFilter) []string {
	out := make([]string, 0, len(modes))
	for _, m := range modes {
		if mf.HasEffectiveItem(m) {
			out = append(out, m)
		}
	}
	return out
}

// sendReach is who the viewer may send to on mode grounds. With an inactive
// filter any presence in a selected mode counts for both directions.
func (mp modePopulations) sendReach(selected []string, mf *filters.ModesFilter) Set {
	if !mf.IsActive() {
		return mp.anyPresence(selected)
	}
	out := make(Set)
	for _, m := range sendModes(selected, mf) {
		out.AddAll(mp.receive[m])
	}
	return out
}

// receiveReach is who may send to the viewer on mode grounds.
func (mp modePopulations) receiveReach(selected []string, mf *filters.ModesFilter) Set {
	if !mf.IsActive() {
		return mp.anyPresence(selected)
	}
	out := make(Set)
	for _, m := range receiveModes(selected, mf) {
		out.AddAll(mp.send[m])
	}
	return out
}

func (mp modePopulations) anyPresence(modes []string) Set {
	out := make(Set)
	for _, m := range modes {
		out.AddAll(mp.send[m])
		out.AddAll(mp.receive[m])
	}
	return out
}
