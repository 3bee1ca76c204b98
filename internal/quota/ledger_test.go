package quota

import (
	"testing"

	"fileshare/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	gb = int64(1_000_000_000)
	mb = int64(1_000_000)
)

func freeOwner() *Owner {
	return &Owner{Tier: model.TierNone, Quota: model.FreeQuota()}
}

func TestAnonymousAdmission(t *testing.T) {
	tests := []struct {
		name     string
		incoming int64
		want     bool
	}{
		{"small upload", 1500 * mb, true},
		{"exactly at limit", 2 * gb, true},
		{"over limit", 2*gb + 1, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := CanAdmit(Snapshot{}, tt.incoming)
			assert.Equal(t, tt.want, d.Admitted)
			if !tt.want {
				assert.Equal(t, ReasonUploadTooLarge, d.Reason)
			}
		})
	}
}

func TestFreeUserMatchesRule(t *testing.T) {
	// canAdmit is true iff n <= 2e9 and consumed+n <= 4e9
	consumedCases := []int64{0, 1 * gb, 2 * gb, 3900 * mb, 4 * gb}
	incomingCases := []int64{1, 200 * mb, 1 * gb, 2 * gb, 2*gb + 1, 3 * gb}

	for _, consumed := range consumedCases {
		for _, n := range incomingCases {
			s := Snapshot{Owner: freeOwner(), Uploads: []UploadSize{{SizeInBytes: consumed, IsValid: true}}}
			want := n <= 2*gb && consumed+n <= 4*gb
			assert.Equal(t, want, CanAdmit(s, n).Admitted, "consumed=%d incoming=%d", consumed, n)
		}
	}
}

func TestFreeUserNearlyFullIsRejected(t *testing.T) {
	s := Snapshot{Owner: freeOwner(), Uploads: []UploadSize{{SizeInBytes: 3900 * mb, IsValid: true}}}

	d := CanAdmit(s, 200*mb)

	assert.False(t, d.Admitted)
	assert.Equal(t, ReasonStorageFull, d.Reason)
	assert.Equal(t, 3900*mb, d.Consumed)
	assert.Equal(t, 100*mb, d.Available)
}

func TestPendingUploadsDoNotCount(t *testing.T) {
	s := Snapshot{Owner: freeOwner(), Uploads: []UploadSize{
		{SizeInBytes: 2 * gb, IsValid: false},
		{SizeInBytes: 2 * gb, IsValid: false},
		{SizeInBytes: 1 * gb, IsValid: true},
	}}

	assert.Equal(t, 1*gb, Consumed(s.Uploads))
	assert.True(t, CanAdmit(s, 2*gb).Admitted)
}

func TestPaidUserRejectedExactlyAtThreshold(t *testing.T) {
	owner := &Owner{Tier: model.TierMonthly, Quota: model.QuotaState{StorageQuotaBytes: 10_000 * gb, MaxWorkspaces: 5}}
	var uploads []UploadSize

	accepted := 0
	for {
		d := CanAdmit(Snapshot{Owner: owner, Uploads: uploads}, 5*gb)
		if !d.Admitted {
			assert.Equal(t, ReasonStorageFull, d.Reason)
			break
		}
		uploads = append(uploads, UploadSize{SizeInBytes: 5 * gb, IsValid: true})
		accepted++
		require.Less(t, accepted, 3000)
	}

	assert.Equal(t, 2000, accepted)
	assert.Equal(t, 10_000*gb, Consumed(uploads))
}

func TestPaidUserHasNoPerUploadCap(t *testing.T) {
	owner := &Owner{Tier: model.TierYearly, Quota: model.QuotaState{StorageQuotaBytes: 1000 * gb}}

	assert.True(t, CanAdmit(Snapshot{Owner: owner}, 50*gb).Admitted)
}

func TestDecisionString(t *testing.T) {
	d := CanAdmit(Snapshot{Owner: freeOwner()}, 3*gb)
	assert.Contains(t, d.String(), "rejected 3.0 GB")
}
