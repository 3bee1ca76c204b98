// Package quota decides whether an upload fits a caller's storage budget.
// It performs no I/O; callers pass a snapshot read right before admission.
package quota

import (
	"fmt"

	"fileshare/internal/model"

	"github.com/dustin/go-humanize"
)

const (
	// AnonUploadLimit caps a single upload from anonymous and free callers.
	AnonUploadLimit int64 = 2_000_000_000
	// FreeStorageLimit caps what a free account may keep stored.
	FreeStorageLimit = model.FreeStorageQuotaBytes
)

type Reason string

const (
	ReasonNone           Reason = ""
	ReasonUploadTooLarge Reason = "upload_too_large"
	ReasonStorageFull    Reason = "storage_not_enough"
)

// Snapshot is the ledger's view of one caller. A nil Owner means anonymous.
type Snapshot struct {
	Owner   *Owner
	Uploads []UploadSize
}

// Owner carries only the parts of a User the ledger depends on.
type Owner struct {
	Tier  model.Tier
	Quota model.QuotaState
}

// UploadSize is one upload in one of the owner's workspaces.
type UploadSize struct {
	SizeInBytes int64
	IsValid     bool
}

type Decision struct {
	Admitted  bool
	Reason    Reason
	Consumed  int64
	Limit     int64
	Incoming  int64
	Available int64
}

func (d Decision) String() string {
	if d.Admitted {
		return fmt.Sprintf("admitted %s (%s of %s used)",
			humanize.Bytes(uint64(d.Incoming)), humanize.Bytes(uint64(d.Consumed)), humanize.Bytes(uint64(d.Limit)))
	}
	return fmt.Sprintf("rejected %s: %s (%s of %s used)",
		humanize.Bytes(uint64(d.Incoming)), d.Reason, humanize.Bytes(uint64(d.Consumed)), humanize.Bytes(uint64(d.Limit)))
}

// Consumed sums valid uploads only. Pending uploads never count.
func Consumed(uploads []UploadSize) int64 {
	var total int64
	for _, u := range uploads {
		if u.IsValid && u.SizeInBytes > 0 {
			total += u.SizeInBytes
		}
	}
	return total
}

// CanAdmit applies the tier rules to an incoming upload of incoming bytes.
func CanAdmit(s Snapshot, incoming int64) Decision {
	if s.Owner == nil {
		d := Decision{Incoming: incoming, Limit: AnonUploadLimit}
		if incoming > AnonUploadLimit {
			d.Reason = ReasonUploadTooLarge
			return d
		}
		d.Admitted = true
		d.Available = AnonUploadLimit - incoming
		return d
	}

	consumed := Consumed(s.Uploads)
	d := Decision{Incoming: incoming, Consumed: consumed}

	if s.Owner.Tier == model.TierNone {
		d.Limit = FreeStorageLimit
		switch {
		case incoming > AnonUploadLimit:
			d.Reason = ReasonUploadTooLarge
		case consumed+incoming > FreeStorageLimit:
			d.Reason = ReasonStorageFull
		default:
			d.Admitted = true
		}
	} else {
		d.Limit = s.Owner.Quota.StorageQuotaBytes
		if consumed+incoming > d.Limit {
			d.Reason = ReasonStorageFull
		} else {
			d.Admitted = true
		}
	}

	d.Available = d.Limit - consumed
	if d.Admitted {
		d.Available -= incoming
	}
	if d.Available < 0 {
		d.Available = 0
	}
	return d
}

// OwnerOf projects a user onto the ledger's view.
func OwnerOf(u *model.User) *Owner {
	if u == nil {
		return nil
	}
	return &Owner{Tier: u.Subscription.Tier, Quota: u.Quota}
}
