package cockroach

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"realtime-core/internal/domain"
)

func TestStatusRankMatchesDomainRank(t *testing.T) {
	for _, s := range []domain.MessageStatus{
		domain.MessageStatusSent,
		domain.MessageStatusDelivered,
		domain.MessageStatusRead,
	} {
		assert.Contains(t, statusRank, fmt.Sprintf("WHEN '%s' THEN %d", s, s.Rank()))
	}
}
