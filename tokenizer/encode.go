package tokenizer

import "github.com/pkg/errors"

// Sequence is a fixed-length encoded caption.
type Sequence struct {
	// IDs are the token ids, padded with the padding index.
	IDs []int64
	// Mask is 1 for real tokens and the padding index elsewhere.
	Mask []int64
	// SegmentIDs are 0 for real tokens and the padding index elsewhere.
	SegmentIDs []int64
}

// Validate checks that every vector has exactly length elements.
func (s Sequence) Validate(length int) error {
	if len(s.IDs) != length || len(s.Mask) != length || len(s.SegmentIDs) != length {
		return errors.Errorf("sequence lengths ids=%d mask=%d segments=%d, expected %d",
			len(s.IDs), len(s.Mask), len(s.SegmentIDs), length)
	}
	return nil
}

// Encoder turns captions into fixed-length sequences.
type Encoder struct {
	Tokenizer    Tokenizer
	Vocab        *Vocab
	MaxSeqLength int
	PaddingIndex int64
}

// Encode tokenizes caption, wraps it in [CLS]/[SEP], maps tokens to ids
// ([UNK] for unknown tokens), truncates to MaxSeqLength and pads.
//
// Truncation happens after the markers are added, so a caption longer than
// MaxSeqLength-2 tokens loses its trailing [SEP]. The mask and segment ids
// are padded with PaddingIndex, the same as the ids.
//
// Arguments:
//   - caption: The raw referring expression.
//
// Returns:
//   - Sequence: ids, mask and segment ids of length MaxSeqLength.
//   - error: If the produced sequence does not have MaxSeqLength elements.
//
// @example
// enc := &Encoder{Tokenizer: wp, Vocab: vocab, MaxSeqLength: 20}
// seq, err := enc.Encode("a red car") // [CLS] a red car [SEP] then 15 pads
func (e *Encoder) Encode(caption string) (Sequence, error) {
	if e.MaxSeqLength <= 0 {
		return Sequence{}, errors.Errorf("max sequence length must be positive, got %d", e.MaxSeqLength)
	}

	tokens := make([]string, 0, e.MaxSeqLength+2)
	tokens = append(tokens, ClsToken)
	tokens = append(tokens, e.Tokenizer.Tokenize(caption)...)
	tokens = append(tokens, SepToken)

	ids := make([]int64, 0, len(tokens))
	for _, tok := range tokens {
		id, ok := e.Vocab.ID(tok)
		if !ok {
			id = e.Vocab.UnknownID()
		}
		ids = append(ids, id)
	}
	if len(ids) > e.MaxSeqLength {
		ids = ids[:e.MaxSeqLength]
	}

	seq := Sequence{
		IDs:        make([]int64, e.MaxSeqLength),
		Mask:       make([]int64, e.MaxSeqLength),
		SegmentIDs: make([]int64, e.MaxSeqLength),
	}
	copy(seq.IDs, ids)
	for i := range seq.IDs {
		if i < len(ids) {
			seq.Mask[i] = 1
			continue
		}
		seq.IDs[i] = e.PaddingIndex
		seq.Mask[i] = e.PaddingIndex
		seq.SegmentIDs[i] = e.PaddingIndex
	}

	if err := seq.Validate(e.MaxSeqLength); err != nil {
		return Sequence{}, err
	}
	return seq, nil
}
