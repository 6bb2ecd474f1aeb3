package jobbuilder

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/G-Research/chunkpool/internal/chunkpool/chunk"
	"github.com/G-Research/chunkpool/internal/chunkpool/configuration"
	"github.com/G-Research/chunkpool/internal/chunkpool/keys"
	"github.com/G-Research/chunkpool/internal/chunkpool/testfixtures"
	"github.com/G-Research/chunkpool/internal/common/poolerrors"
)

var k = testfixtures.K

type buildInput struct {
	primary    []*chunk.InputChunk
	foreign    []*chunk.InputChunk
	teleported []*chunk.InputChunk
}

func testOptions() Options {
	config := configuration.Default()
	config.DataSizePerJob = configuration.Infinity
	config.MaxDataSlicesPerJob = 1 << 30
	return OptionsFromConfig(config)
}

func build(t *testing.T, options Options, tables *testfixtures.Tables, input buildInput) []*Job {
	var primary, foreign []*chunk.DataSlice
	for _, c := range input.primary {
		primary = append(primary, tables.DataSlice(c))
	}
	for _, c := range input.foreign {
		foreign = append(foreign, tables.DataSlice(c))
	}
	jobs, err := NewBuilder(options, tables.Streams, logrus.NewEntry(logrus.New())).Build(primary, foreign, input.teleported)
	require.NoError(t, err)

	stripeLists := make([]*chunk.StripeList, len(jobs))
	for i, job := range jobs {
		stripeLists[i] = job.StripeList
	}
	assert.NoError(t, testfixtures.CheckDataIntegrity(tables.Streams, stripeLists, input.teleported, input.primary))
	assert.NoError(t, testfixtures.CheckForeignMarked(tables.Streams, stripeLists))
	if options.KeyGuarantee {
		assert.NoError(t, testfixtures.CheckKeyGuarantee(stripeLists, options.PrimaryPrefixLength))
	}
	return jobs
}

func TestBuilder_JobCounts(t *testing.T) {
	tests := map[string]struct {
		options      func(o Options) Options
		setup        func(tables *testfixtures.Tables) buildInput
		tables       int
		expectedJobs int
	}{
		"jobs never span a teleported chunk": {
			tables: 4,
			setup: func(tables *testfixtures.Tables) buildInput {
				a := tables.CreateChunk(k(0, 10), k(1, 11), 0)
				b := tables.CreateChunk(k(1, 12), k(2, 10), 1)
				c := tables.CreateChunk(k(1, 10), k(1, 13), 2)
				d := tables.CreateChunk(k(1, 12), k(2, 10), 3, testfixtures.WithLimits(k(1, 13), k(1, 17)))
				return buildInput{primary: []*chunk.InputChunk{a, d}, teleported: []*chunk.InputChunk{b, c}}
			},
			expectedJobs: 2,
		},
		"everything fits into one job": {
			tables: 3,
			setup: func(tables *testfixtures.Tables) buildInput {
				return buildInput{primary: []*chunk.InputChunk{
					tables.CreateChunk(k(3), k(3), 0),
					tables.CreateChunk(k(2), k(15), 1),
					tables.CreateChunk(k(1), k(3), 2),
				}}
			},
			expectedJobs: 1,
		},
		"single key slices are spread over jobs by slice count": {
			tables: 2,
			options: func(o Options) Options {
				o.MaxDataSlicesPerJob = 3
				return o
			},
			setup: func(tables *testfixtures.Tables) buildInput {
				input := buildInput{primary: []*chunk.InputChunk{tables.CreateChunk(k(1), k(5), 0)}}
				for i := 0; i < 100; i++ {
					input.primary = append(input.primary, tables.CreateChunk(k(3), k(3), 1))
				}
				return input
			},
			expectedJobs: 34,
		},
		"single key chunk is sliced by rows": {
			tables: 1,
			options: func(o Options) Options {
				o.MaxDataSlicesPerJob = 1
				o.InputSliceDataSize = 10
				return o
			},
			setup: func(tables *testfixtures.Tables) buildInput {
				return buildInput{primary: []*chunk.InputChunk{
					tables.CreateChunk(k(1, 2), k(1, 42), 0, testfixtures.WithRowCount(10000)),
				}}
			},
			expectedJobs: 102,
		},
		"one job per data size": {
			tables: 1,
			options: func(o Options) Options {
				o.DataSizePerJob = testfixtures.DefaultChunkSize
				return o
			},
			setup: func(tables *testfixtures.Tables) buildInput {
				var input buildInput
				for i := int64(0); i < 10; i++ {
					input.primary = append(input.primary, tables.CreateChunk(k(2*i), k(2*i+1), 0))
				}
				return input
			},
			expectedJobs: 10,
		},
		"key guarantee keeps a shared key in one job": {
			tables: 2,
			options: func(o Options) Options {
				o.KeyGuarantee = true
				o.MaxDataSlicesPerJob = 1
				return o
			},
			setup: func(tables *testfixtures.Tables) buildInput {
				return buildInput{primary: []*chunk.InputChunk{
					tables.CreateChunk(k(0, 1), k(2, 2), 0),
					tables.CreateChunk(k(2, 6), k(5, 8), 1),
				}}
			},
			expectedJobs: 2,
		},
		"key guarantee with a maniac key": {
			tables: 2,
			options: func(o Options) Options {
				o.KeyGuarantee = true
				o.DataSizePerJob = 1
				return o
			},
			setup: func(tables *testfixtures.Tables) buildInput {
				return buildInput{primary: []*chunk.InputChunk{
					tables.CreateChunk(k(0, 1), k(2, 9), 0),
					tables.CreateChunk(k(2, 6), k(2, 8), 1),
				}}
			},
			expectedJobs: 2,
		},
		"no input": {
			tables:       1,
			setup:        func(tables *testfixtures.Tables) buildInput { return buildInput{} },
			expectedJobs: 0,
		},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			options := testOptions()
			if tc.options != nil {
				options = tc.options(options)
			}
			tables := testfixtures.PrimaryTables(tc.tables)
			jobs := build(t, options, tables, tc.setup(tables))
			assert.Len(t, jobs, tc.expectedJobs)
		})
	}
}

func TestBuilder_SharedKeyJobHasBothTables(t *testing.T) {
	options := testOptions()
	options.KeyGuarantee = true
	options.MaxDataSlicesPerJob = 1
	tables := testfixtures.PrimaryTables(2)
	a := tables.CreateChunk(k(0, 1), k(2, 2), 0)
	b := tables.CreateChunk(k(2, 6), k(5, 8), 1)

	jobs := build(t, options, tables, buildInput{primary: []*chunk.InputChunk{a, b}})
	require.Len(t, jobs, 2)
	require.Len(t, jobs[0].StripeList.Stripes, 2)
	assert.Equal(t, 0, jobs[0].StripeList.Stripes[0].TableIndex())
	assert.Equal(t, 1, jobs[0].StripeList.Stripes[1].TableIndex())
	assert.Equal(t, k(0), jobs[0].LowerKey)
	assert.Equal(t, keys.Successor(k(2)), jobs[0].UpperKey)
	require.Len(t, jobs[1].StripeList.Stripes, 1)
	assert.Equal(t, 1, jobs[1].StripeList.Stripes[0].TableIndex())
}

func TestBuilder_AttachesForeignSlicesByKeyRange(t *testing.T) {
	options := testOptions()
	options.DataSizePerJob = testfixtures.DefaultChunkSize
	options.ForeignPrefixLength = 1
	tables := testfixtures.NewTables([]bool{false, true}, nil, nil)
	p1 := tables.CreateChunk(k(1), k(5), 0)
	p2 := tables.CreateChunk(k(10), k(15), 0)
	f1 := tables.CreateChunk(k(0), k(3), 1)
	f2 := tables.CreateChunk(k(4), k(11), 1)
	f3 := tables.CreateChunk(k(20), k(30), 1)

	jobs := build(t, options, tables, buildInput{
		primary: []*chunk.InputChunk{p1, p2},
		foreign: []*chunk.InputChunk{f1, f2, f3},
	})
	require.Len(t, jobs, 2)

	first := jobs[0].StripeList.Stripes
	require.Len(t, first, 2)
	assert.False(t, first[0].Foreign)
	assert.True(t, first[1].Foreign)
	assert.Equal(t, []*chunk.InputChunk{f1, f2}, first[1].Chunks())
	assert.Equal(t, keys.Successor(k(5)), first[1].DataSlices[1].UpperKey())

	second := jobs[1].StripeList.Stripes
	require.Len(t, second, 2)
	assert.Equal(t, []*chunk.InputChunk{f2}, second[1].Chunks())
	assert.Equal(t, k(10), second[1].DataSlices[0].LowerKey())
	assert.Equal(t, 1, jobs[1].PrimarySliceCount)
}

func TestBuilder_ZeroForeignPrefixAttachesEverything(t *testing.T) {
	options := testOptions()
	options.MaxDataSlicesPerJob = 1
	tables := testfixtures.NewTables([]bool{false, true}, nil, nil)
	primary := []*chunk.InputChunk{
		tables.CreateChunk(k(1), k(1), 0),
		tables.CreateChunk(k(2), k(2), 0),
	}
	foreign := []*chunk.InputChunk{
		tables.CreateChunk(k(40), k(50), 1),
		tables.CreateChunk(k(60), k(70), 1),
	}

	jobs := build(t, options, tables, buildInput{primary: primary, foreign: foreign})
	require.Len(t, jobs, 2)
	for _, job := range jobs {
		require.Len(t, job.StripeList.Stripes, 2)
		assert.Equal(t, foreign, job.StripeList.Stripes[1].Chunks())
		assert.Equal(t, 3, job.StripeList.DataSliceCount())
	}
}

func TestBuilder_PreservesTagsAndStatistics(t *testing.T) {
	tables := testfixtures.PrimaryTables(1)
	c := tables.CreateChunk(k(1), k(1), 0, testfixtures.WithRowCount(100))
	ds := tables.DataSlice(c)
	ds.Tag = 7
	options := testOptions()
	options.InputSliceDataSize = 256

	jobs, err := NewBuilder(options, tables.Streams, logrus.NewEntry(logrus.New())).Build([]*chunk.DataSlice{ds}, nil, nil)
	if !assert.NoError(t, err) {
		return
	}
	require.Len(t, jobs, 1)
	list := jobs[0].StripeList
	assert.Equal(t, 4, list.DataSliceCount())
	assert.Equal(t, int64(100), list.TotalRowCount)
	assert.Equal(t, int64(testfixtures.DefaultChunkSize), list.TotalDataSize)
	assert.Equal(t, []int{7}, jobs[0].InputCookies())
	// The caller's data slice is left alone.
	assert.Equal(t, 7, ds.Tag)
	assert.True(t, ds.IsWholeChunk())
}

func TestBuilder_MissingBoundaryKeys(t *testing.T) {
	tables := testfixtures.PrimaryTables(1)
	c := tables.CreateChunk(k(1), k(2), 0)
	ds := chunk.NewUnversionedDataSlice(chunk.NewSlice(c))

	_, err := NewBuilder(testOptions(), tables.Streams, logrus.NewEntry(logrus.New())).Build([]*chunk.DataSlice{ds}, nil, nil)
	var target *poolerrors.ErrMissingBoundaryKeys
	assert.ErrorAs(t, err, &target)
}

func TestBuilder_SliceCountBound(t *testing.T) {
	tests := map[string]struct {
		tables       int
		max          int
		setup        func(tables *testfixtures.Tables) []*chunk.InputChunk
		expectedJobs int
	}{
		"slices opened next to a single key slice": {
			tables: 1,
			max:    2,
			setup: func(tables *testfixtures.Tables) []*chunk.InputChunk {
				return []*chunk.InputChunk{
					tables.CreateChunk(k(5), k(5), 0),
					tables.CreateChunk(k(5), k(9), 0),
					tables.CreateChunk(k(5), k(9), 0),
				}
			},
			expectedJobs: 2,
		},
		"maniacs next to a long slice": {
			tables: 2,
			max:    3,
			setup: func(tables *testfixtures.Tables) []*chunk.InputChunk {
				input := []*chunk.InputChunk{tables.CreateChunk(k(1), k(5), 0)}
				for i := 0; i < 100; i++ {
					input = append(input, tables.CreateChunk(k(3), k(3), 1))
				}
				return input
			},
			expectedJobs: 34,
		},
		"many overlapping tables": {
			tables: 4,
			max:    2,
			setup: func(tables *testfixtures.Tables) []*chunk.InputChunk {
				var input []*chunk.InputChunk
				for table := 0; table < 4; table++ {
					for i := int64(0); i < 5; i++ {
						input = append(input, tables.CreateChunk(k(10*i+int64(table)), k(10*i+9), table))
					}
				}
				return input
			},
		},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			options := testOptions()
			options.MaxDataSlicesPerJob = tc.max
			tables := testfixtures.PrimaryTables(tc.tables)
			jobs := build(t, options, tables, buildInput{primary: tc.setup(tables)})
			stripeLists := make([]*chunk.StripeList, len(jobs))
			for i, job := range jobs {
				stripeLists[i] = job.StripeList
			}
			assert.NoError(t, testfixtures.CheckSliceCount(stripeLists, tc.max, tc.tables))
			if tc.expectedJobs > 0 {
				assert.Len(t, jobs, tc.expectedJobs)
			}
		})
	}
}
