// Package manifest reads YAML descriptions of input tables and their chunks and turns them into stripes that can be
// added to a sorted pool.
//
// An example manifest:
//
//	tables:
//	  - name: orders
//	    teleportable: true
//	  - name: customers
//	    foreign: true
//	chunks:
//	  - table: orders
//	    minKey: [1, "a"]
//	    maxKey: [40, "z"]
//	    rowCount: 1000
//	    dataSize: 64Mi
//	    samples: [[10], [20], [30]]
//	  - table: customers
//	    minKey: [1]
//	    maxKey: [100]
//	    lowerLimit: {key: [5]}
package manifest

import (
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"

	"github.com/G-Research/chunkpool/internal/chunkpool/chunk"
	"github.com/G-Research/chunkpool/internal/chunkpool/configuration"
	"github.com/G-Research/chunkpool/internal/chunkpool/keys"
	"github.com/G-Research/chunkpool/internal/common/poolerrors"
	"github.com/G-Research/chunkpool/internal/common/stringinterner"
)

// Namespace of the ids generated for chunks that do not state one.
var chunkIdNamespace = uuid.MustParse("6f1c3d2a-8a4e-4c57-9d0b-2f5e7a1b9c30")

type Manifest struct {
	Tables []Table `yaml:"tables"`
	Chunks []Chunk `yaml:"chunks"`
}

type Table struct {
	Name         string `yaml:"name"`
	Foreign      bool   `yaml:"foreign"`
	Teleportable bool   `yaml:"teleportable"`
	Versioned    bool   `yaml:"versioned"`
}

type Chunk struct {
	// Generated from the position of the chunk in the manifest if empty.
	Id    string `yaml:"id"`
	Table string `yaml:"table"`
	// Chunks with the same non-empty stripe name are added to the pool as one stripe. Every other chunk forms a
	// stripe of its own.
	Stripe     string        `yaml:"stripe"`
	MinKey     []interface{} `yaml:"minKey"`
	MaxKey     []interface{} `yaml:"maxKey"`
	RowCount   int64         `yaml:"rowCount"`
	DataSize   string        `yaml:"dataSize"`
	LowerLimit *Limit        `yaml:"lowerLimit"`
	UpperLimit *Limit        `yaml:"upperLimit"`
	// Keys sampled from the chunk, used to pick split keys when slicing by key.
	Samples [][]interface{} `yaml:"samples"`
}

type Limit struct {
	Key      []interface{} `yaml:"key"`
	RowIndex *int64        `yaml:"rowIndex"`
}

// Input is a manifest resolved into what a pool needs.
type Input struct {
	TableNames []string
	Streams    chunk.StreamDirectory
	// In order of first appearance of their stripe name.
	Stripes []*chunk.Stripe
	// In manifest order.
	Chunks  []*chunk.InputChunk
	Samples map[uuid.UUID][]keys.Key
}

// Load reads and parses the manifest at path.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	m, err := Parse(data)
	if err != nil {
		return nil, errors.WithMessagef(err, "parsing manifest %s", path)
	}
	return m, nil
}

// Parse parses a manifest. Unknown fields are rejected.
func Parse(data []byte) (*Manifest, error) {
	m := &Manifest{}
	if err := yaml.UnmarshalStrict(data, m); err != nil {
		return nil, errors.WithStack(err)
	}
	return m, nil
}

// Resolve builds the chunks and stripes of the manifest. Table row indexes are assigned in manifest order. String
// key values are interned. Every problem found is reported.
func (m *Manifest) Resolve(internerSize uint32) (*Input, error) {
	input := &Input{
		TableNames: make([]string, len(m.Tables)),
		Streams:    make(chunk.StreamDirectory, len(m.Tables)),
		Samples:    make(map[uuid.UUID][]keys.Key),
	}
	tableIndexes := make(map[string]int, len(m.Tables))
	for i, t := range m.Tables {
		if _, ok := tableIndexes[t.Name]; ok {
			return nil, errors.WithStack(&poolerrors.ErrAlreadyExists{Type: "table", Value: t.Name})
		}
		tableIndexes[t.Name] = i
		input.TableNames[i] = t.Name
		input.Streams[i] = chunk.StreamDescriptor{
			IsPrimary:      !t.Foreign,
			IsTeleportable: t.Teleportable,
			IsVersioned:    t.Versioned,
		}
	}

	r := &resolver{
		interner:  stringinterner.New(internerSize),
		rowCounts: make([]int64, len(m.Tables)),
	}
	var result *multierror.Error
	stripesByName := make(map[string]*chunk.Stripe)
	for i, desc := range m.Chunks {
		tableIndex, ok := tableIndexes[desc.Table]
		if !ok {
			result = multierror.Append(result, errors.WithStack(&poolerrors.ErrNotFound{
				Type: "table", Value: desc.Table, Message: fmt.Sprintf("referenced by chunk %d", i),
			}))
			continue
		}
		c, samples, err := r.chunk(i, desc, tableIndex)
		if err != nil {
			result = multierror.Append(result, errors.WithMessagef(err, "chunk %d", i))
			continue
		}
		ds, err := dataSlice(c, input.Streams.Get(tableIndex).IsVersioned)
		if err != nil {
			result = multierror.Append(result, errors.WithMessagef(err, "chunk %d", i))
			continue
		}

		input.Chunks = append(input.Chunks, c)
		if len(samples) > 0 {
			input.Samples[c.ID] = samples
		}
		stripe, ok := stripesByName[desc.Stripe]
		if !ok || desc.Stripe == "" {
			stripe = chunk.NewStripe()
			stripe.Foreign = !input.Streams.Get(tableIndex).IsPrimary
			input.Stripes = append(input.Stripes, stripe)
			if desc.Stripe != "" {
				stripesByName[desc.Stripe] = stripe
			}
		}
		stripe.DataSlices = append(stripe.DataSlices, ds)
	}
	if err := result.ErrorOrNil(); err != nil {
		return nil, err
	}
	return input, nil
}

type resolver struct {
	interner  *stringinterner.StringInterner
	rowCounts []int64
}

func (r *resolver) chunk(index int, desc Chunk, tableIndex int) (*chunk.InputChunk, []keys.Key, error) {
	id := uuid.NewSHA1(chunkIdNamespace, []byte(fmt.Sprintf("chunk-%d", index)))
	if desc.Id != "" {
		parsed, err := uuid.Parse(desc.Id)
		if err != nil {
			return nil, nil, errors.WithStack(&poolerrors.ErrInvalidArgument{Name: "id", Value: desc.Id, Message: err.Error()})
		}
		id = parsed
	}
	var dataSize configuration.Size
	if desc.DataSize != "" {
		size, err := configuration.ParseSize(desc.DataSize)
		if err != nil {
			return nil, nil, err
		}
		if size.IsInfinite() {
			return nil, nil, errors.WithStack(&poolerrors.ErrInvalidArgument{Name: "dataSize", Value: desc.DataSize})
		}
		dataSize = size
	}
	minKey, err := r.key(desc.MinKey)
	if err != nil {
		return nil, nil, errors.WithMessage(err, "minKey")
	}
	maxKey, err := r.key(desc.MaxKey)
	if err != nil {
		return nil, nil, errors.WithMessage(err, "maxKey")
	}

	c := &chunk.InputChunk{
		ID:                   id,
		TableIndex:           tableIndex,
		TableRowIndex:        r.rowCounts[tableIndex],
		RowCount:             desc.RowCount,
		CompressedDataSize:   int64(dataSize),
		UncompressedDataSize: int64(dataSize),
		BoundaryKeys:         &chunk.BoundaryKeys{MinKey: minKey, MaxKey: maxKey},
	}
	if c.LowerLimit, err = r.limit(desc.LowerLimit); err != nil {
		return nil, nil, errors.WithMessage(err, "lowerLimit")
	}
	if c.UpperLimit, err = r.limit(desc.UpperLimit); err != nil {
		return nil, nil, errors.WithMessage(err, "upperLimit")
	}
	if err := c.Validate(); err != nil {
		return nil, nil, err
	}
	r.rowCounts[tableIndex] += c.RowCount

	samples := make([]keys.Key, 0, len(desc.Samples))
	for _, raw := range desc.Samples {
		sample, err := r.key(raw)
		if err != nil {
			return nil, nil, errors.WithMessage(err, "samples")
		}
		samples = append(samples, sample)
	}
	return c, samples, nil
}

func (r *resolver) key(values []interface{}) (keys.Key, error) {
	k, err := keys.FromInterfaces(values)
	if err != nil {
		return nil, err
	}
	for i, v := range k {
		if v.Type == keys.StringType {
			k[i].Str = r.interner.Intern(v.Str)
		}
	}
	return k, nil
}

func (r *resolver) limit(desc *Limit) (*chunk.Limit, error) {
	if desc == nil {
		return nil, nil
	}
	var rv chunk.Limit
	if desc.Key != nil {
		k, err := r.key(desc.Key)
		if err != nil {
			return nil, err
		}
		rv.Key = k
	}
	if desc.RowIndex != nil {
		rv.RowIndex = *desc.RowIndex
		rv.HasRowIndex = true
	}
	return &rv, nil
}

// dataSlice wraps the whole chunk into a data slice with limits inferred from its boundary keys.
func dataSlice(c *chunk.InputChunk, versioned bool) (*chunk.DataSlice, error) {
	var ds *chunk.DataSlice
	if versioned {
		var lower, upper chunk.Limit
		if c.LowerLimit != nil {
			lower = *c.LowerLimit
		}
		if c.UpperLimit != nil {
			upper = *c.UpperLimit
		}
		ds = chunk.NewVersionedDataSlice(c.TableIndex, []*chunk.Slice{chunk.NewSlice(c)}, lower, upper)
	} else {
		ds = chunk.NewUnversionedDataSlice(chunk.NewSlice(c))
	}
	if err := ds.InferLimitsFromBoundaryKeys(); err != nil {
		return nil, err
	}
	return ds, nil
}
