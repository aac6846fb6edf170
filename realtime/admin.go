package realtime

import (
	"github.com/citytransit/realtime-core/model"
	"github.com/citytransit/realtime-core/storage"
)

// HandleAdminConnect registers the admin connection and sends an
// initial full snapshot; admin is a receive-mostly namespace per §6's
// server->admin event table, so no inbound handlers are registered.
func (h *Hub) HandleAdminConnect(c *Conn, claims *Claims) {
	c.UserID = claims.UserID

	buses, err := h.Store.ListBuses(storage.BusFilter{})
	if err != nil {
		h.Log.Warn().Err(err).Msg("realtime: admin snapshot query failed")
		return
	}
	views := make([]BusView, len(buses))
	for i, b := range buses {
		views[i] = busView(b)
	}
	_ = c.Send(EventBusesAll, views)
}

// BroadcastDriverApprovalUpdate notifies admins of an out-of-band
// approval/rejection decision (the decision itself is made by the
// out-of-scope administrative CRUD surface; the core only fans it
// out and, on approval, kicks the held driver socket's state).
func (h *Hub) BroadcastDriverApprovalUpdate(driverID, action string) {
	h.broadcastAdmins(EventDriverApprovalDone, map[string]string{"driverId": driverID, "action": action})
}

// BroadcastDriversStatusCounts reports a count of drivers per state,
// used by the admin dashboard's live roster view.
func (h *Hub) BroadcastDriversStatusCounts(counts map[model.DriverState]int) {
	h.broadcastAdmins(EventDriversStatusCounts, counts)
}

// BroadcastNotification fans a notify.Rules decision out to admin
// subscribers; wired as notify.Rules.OnNotify by bootstrap.
func (h *Hub) BroadcastNotification(payload interface{}) {
	h.broadcastAdmins(EventNotificationNew, payload)
}
