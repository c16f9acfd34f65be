package checkpoint

// Vocab is the bidirectional token mapping built once from the checkpoint
// and immutable afterwards. Token id 0 is the end-of-sequence / padding
// sentinel.
type Vocab struct {
	tokens  []string
	tokenID map[string]int
}

// EOS is the reserved end-of-sequence / padding token id.
const EOS = 0

// NewVocab builds a vocabulary from an ordered token list. The loader
// uses the incremental path; this is for tools and tests that already
// hold the full list.
func NewVocab(tokens []string) *Vocab {
	v := newVocab(len(tokens))
	for _, tok := range tokens {
		v.add(tok)
	}
	return v
}

func newVocab(n int) *Vocab {
	return &Vocab{
		tokens:  make([]string, 0, n),
		tokenID: make(map[string]int, n),
	}
}

func (v *Vocab) add(token string) {
	id := len(v.tokens)
	v.tokens = append(v.tokens, token)
	if _, ok := v.tokenID[token]; !ok {
		v.tokenID[token] = id
	}
}

// Size returns the number of tokens.
func (v *Vocab) Size() int { return len(v.tokens) }

// Token returns the string for an id; out-of-range ids decode to "".
func (v *Vocab) Token(id int) string {
	if id < 0 || id >= len(v.tokens) {
		return ""
	}
	return v.tokens[id]
}

// ID returns the id for a token string.
func (v *Vocab) ID(token string) (int, bool) {
	id, ok := v.tokenID[token]
	return id, ok
}
