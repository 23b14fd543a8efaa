package services

import (
	"encoding/base32"
	"time"

	"github.com/google/uuid"
)

const maxTrackingAttempts = 5

// crockford is Crockford's base32 alphabet: no I, L, O or U
var crockford = base32.NewEncoding("0123456789ABCDEFGHJKMNPQRSTVWXYZ").WithPadding(base32.NoPadding)

// NewTrackingNumber returns CMP-YYMMDD-XXXXXXXX where the suffix is 40 random bits
func NewTrackingNumber(at time.Time) string {
	id := uuid.New()
	return "CMP-" + at.UTC().Format("060102") + "-" + crockford.EncodeToString(id[:5])
}
