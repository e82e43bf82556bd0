package domain

// TokenCounter estimates token counts for budget allocation. Exactness
// is not required, only monotonic, deterministic behavior per input.
type TokenCounter interface {
	CountText(text string) int
}
