// Package annotations - Referring-expression annotations flattened into per-sentence entries.
package annotations

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"

	"github.com/nvr-ai/go-refer/geometry"
)

// DefaultSplitBy is the annotation partition used for refcoco and refcoco+.
const DefaultSplitBy = "unc"

// Entry is one referring expression with its target and, once tokenized,
// its fixed-length sequence.
type Entry struct {
	Caption string
	SentID  int
	ImageID int
	RefID   int
	RefBox  geometry.XYWH

	TokenIDs   []int64
	InputMask  []int64
	SegmentIDs []int64
}

// Source yields the flat list of entries for one split.
type Source interface {
	Entries() ([]Entry, error)
}

// Sentence is one expression attached to a ref.
type Sentence struct {
	SentID int    `json:"sent_id"`
	Raw    string `json:"raw"`
}

// Ref is one referred object and its expressions.
type Ref struct {
	RefID     int        `json:"ref_id"`
	AnnID     int        `json:"ann_id"`
	ImageID   int        `json:"image_id"`
	Split     string     `json:"split"`
	SentIDs   []int      `json:"sent_ids"`
	Sentences []Sentence `json:"sentences"`
}

// Annotation is an instance annotation; only the box is consumed.
type Annotation struct {
	ID      int        `json:"id"`
	ImageID int        `json:"image_id"`
	BBox    [4]float32 `json:"bbox"`
}

type instancesFile struct {
	Annotations []Annotation `json:"annotations"`
}

// Refer is a loaded referring-expression dataset.
type Refer struct {
	Refs  []Ref
	anns  map[int]Annotation
	split string
}

// Load reads <root>/<task>/refs(<splitBy>).json and <root>/<task>/instances.json.
//
// Arguments:
//   - root: Dataset root directory.
//   - task: Dataset name, e.g. "refcoco+".
//   - splitBy: Annotation partition, DefaultSplitBy when empty.
//   - split: Split whose entries Entries returns.
//
// Returns:
//   - *Refer: The loaded dataset.
//   - error: If a file is missing or malformed.
func Load(root, task, splitBy, split string) (*Refer, error) {
	if splitBy == "" {
		splitBy = DefaultSplitBy
	}
	dir := filepath.Join(root, task)

	var refs []Ref
	if err := readJSON(filepath.Join(dir, fmt.Sprintf("refs(%s).json", splitBy)), &refs); err != nil {
		return nil, err
	}
	var instances instancesFile
	if err := readJSON(filepath.Join(dir, "instances.json"), &instances); err != nil {
		return nil, err
	}

	return New(refs, instances.Annotations, split), nil
}

// New builds a Refer from already decoded refs and annotations.
func New(refs []Ref, anns []Annotation, split string) *Refer {
	r := &Refer{Refs: refs, anns: make(map[int]Annotation, len(anns)), split: split}
	for _, a := range anns {
		r.anns[a.ID] = a
	}
	return r
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrap(err, "read annotations")
	}
	if err := json.Unmarshal(data, v); err != nil {
		return errors.Wrapf(err, "decode %s", path)
	}
	return nil
}

// InSplit reports whether a ref with refSplit belongs to the requested split.
//
// testA, testB and testC select every ref whose split contains the letter,
// so "testAB" refs appear in both testA and testB. testAB, testBC and testAC
// match exactly, test selects every test partition, and train/val match exactly.
func InSplit(refSplit, split string) bool {
	switch split {
	case "testA", "testB", "testC":
		return strings.Contains(refSplit, split[len(split)-1:])
	case "test":
		return strings.Contains(refSplit, "test")
	default:
		return refSplit == split
	}
}

// RefIDs returns the ids of refs in the split, in file order.
func (r *Refer) RefIDs() []int {
	var ids []int
	for _, ref := range r.Refs {
		if InSplit(ref.Split, r.split) {
			ids = append(ids, ref.RefID)
		}
	}
	return ids
}

// RefBox returns the target box of a ref in (x, y, w, h) form.
func (r *Refer) RefBox(ref Ref) (geometry.XYWH, error) {
	ann, ok := r.anns[ref.AnnID]
	if !ok {
		return geometry.XYWH{}, errors.Errorf("ref %d: annotation %d not found", ref.RefID, ref.AnnID)
	}
	return geometry.XYWH{X: ann.BBox[0], Y: ann.BBox[1], W: ann.BBox[2], H: ann.BBox[3]}, nil
}

// Entries implements Source: one entry per sentence of every ref in the split.
func (r *Refer) Entries() ([]Entry, error) {
	var entries []Entry
	for _, ref := range r.Refs {
		if !InSplit(ref.Split, r.split) {
			continue
		}
		box, err := r.RefBox(ref)
		if err != nil {
			return nil, err
		}
		for i, sent := range ref.Sentences {
			sentID := sent.SentID
			if i < len(ref.SentIDs) {
				sentID = ref.SentIDs[i]
			}
			entries = append(entries, Entry{
				Caption: sent.Raw,
				SentID:  sentID,
				ImageID: ref.ImageID,
				RefID:   ref.RefID,
				RefBox:  box,
			})
		}
	}
	return entries, nil
}
