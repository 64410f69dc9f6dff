package filter

import (
	"fmt"
)

// Pipeline is the ordered filter chain of one dataset.
type Pipeline struct {
	infos   []Info
	filters []Filter
}

// NewPipeline builds a pipeline from directory descriptions.
func NewPipeline(infos []Info) (*Pipeline, error) {
	p := &Pipeline{
		infos:   infos,
		filters: make([]Filter, 0, len(infos)),
	}
	for _, info := range infos {
		f, err := New(info)
		if err != nil {
			return nil, fmt.Errorf("creating %s filter: %w", info.Name(), err)
		}
		p.filters = append(p.filters, f)
	}
	return p, nil
}

// Encode runs every filter in order and returns the stored bytes together
// with the mask of skipped optional filters.
func (p *Pipeline) Encode(input []byte) ([]byte, uint32, error) {
	data := input
	var mask uint32
	for i, f := range p.filters {
		out, err := f.Encode(data)
		if err != nil {
			if p.infos[i].IsOptional() {
				mask |= 1 << uint(i)
				continue
			}
			return nil, 0, fmt.Errorf("%s encode: %w", Name(f.ID()), err)
		}
		data = out
	}
	return data, mask, nil
}

// Decode undoes Encode. Filters run last-first; bit i of mask skips filter i.
func (p *Pipeline) Decode(input []byte, mask uint32) ([]byte, error) {
	data := input
	for i := len(p.filters) - 1; i >= 0; i-- {
		if mask&(1<<uint(i)) != 0 {
			continue
		}
		var err error
		data, err = p.filters[i].Decode(data)
		if err != nil {
			return nil, fmt.Errorf("%s decode: %w", Name(p.filters[i].ID()), err)
		}
	}
	return data, nil
}

// Infos returns the stage descriptions.
func (p *Pipeline) Infos() []Info { return p.infos }

// Empty reports whether the pipeline has no filters.
func (p *Pipeline) Empty() bool { return len(p.filters) == 0 }

// Len returns the number of filters.
func (p *Pipeline) Len() int { return len(p.filters) }
