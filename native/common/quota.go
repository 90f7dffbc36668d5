package common

import (
	"errors"
	"math"
)

var (
	ErrQuotaCallsExceeded   = errors.New("quota remote calls exceeded")
	ErrQuotaGasCapExceeded  = errors.New("quota gas cap exceeded")
	ErrQuotaCounterOverflow = errors.New("quota counter overflow")
)

// QuotaNow captures the current dispatch counters for a caller.
type QuotaNow struct {
	Calls   uint32
	GasUsed uint64
	EpochID uint64
}

// Quota defines the remote-call limits enforced per caller and epoch. Zero
// values disable the corresponding limit.
type Quota struct {
	MaxCallsPerEpoch uint32
	MaxGasPerEpoch   uint64
	EpochSeconds     uint32
}

// Epoch maps a unix timestamp onto the quota epoch. A zero EpochSeconds
// collapses everything into epoch 0.
func (q Quota) Epoch(unix int64) uint64 {
	if q.EpochSeconds == 0 || unix <= 0 {
		return 0
	}
	return uint64(unix) / uint64(q.EpochSeconds)
}

// CheckQuota verifies whether the additional calls and gas fit within the
// configured quota. The returned QuotaNow reflects the updated counters when the
// quota is not exceeded; on denial the previous counters are returned.
func CheckQuota(q Quota, nowEpoch uint64, prev QuotaNow, addCalls uint32, addGas uint64) (QuotaNow, error) {
	next := prev
	if prev.EpochID != nowEpoch {
		next = QuotaNow{EpochID: nowEpoch}
	}

	if addCalls > 0 {
		if next.Calls > math.MaxUint32-addCalls {
			return prev, ErrQuotaCounterOverflow
		}
		next.Calls += addCalls
	}
	if q.MaxCallsPerEpoch > 0 && next.Calls > q.MaxCallsPerEpoch {
		return prev, ErrQuotaCallsExceeded
	}

	if addGas > 0 {
		if next.GasUsed > math.MaxUint64-addGas {
			return prev, ErrQuotaCounterOverflow
		}
		next.GasUsed += addGas
	}
	if q.MaxGasPerEpoch > 0 && next.GasUsed > q.MaxGasPerEpoch {
		return prev, ErrQuotaGasCapExceeded
	}

	return next, nil
}
