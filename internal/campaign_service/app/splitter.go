package app

import (
	"fmt"

	"github.com/masgolf/golang_services/internal/campaign_service/domain"
)

// SplitRecipients cuts recipients into contiguous chunks of at most batchSize.
// Only the last chunk can be short and none is empty.
func SplitRecipients(recipients []domain.Recipient, batchSize int) ([][]domain.Recipient, error) {
	if batchSize <= 0 {
		return nil, fmt.Errorf("batch size must be positive, got %d", batchSize)
	}
	chunks := make([][]domain.Recipient, 0, (len(recipients)+batchSize-1)/batchSize)
	for start := 0; start < len(recipients); start += batchSize {
		end := start + batchSize
		if end > len(recipients) {
			end = len(recipients)
		}
		chunk := make([]domain.Recipient, end-start)
		copy(chunk, recipients[start:end])
		chunks = append(chunks, chunk)
	}
	return chunks, nil
}
