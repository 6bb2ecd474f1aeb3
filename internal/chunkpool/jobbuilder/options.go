package jobbuilder

import (
	"math"

	"github.com/G-Research/chunkpool/internal/chunkpool/configuration"
)

// Options controls how the primary key space is cut into jobs.
type Options struct {
	KeyGuarantee        bool
	PrimaryPrefixLength int
	ForeignPrefixLength int
	DataSizePerJob      int64
	MaxDataSlicesPerJob int
	// Single-key whole chunks above either limit are cut by row index in merge mode.
	InputSliceDataSize int64
	InputSliceRowCount int64
}

func OptionsFromConfig(config configuration.PoolConfig) Options {
	return Options{
		KeyGuarantee:        config.EnableKeyGuarantee,
		PrimaryPrefixLength: config.PrimaryPrefixLength,
		ForeignPrefixLength: config.ForeignPrefixLength,
		DataSizePerJob:      int64(config.DataSizePerJob),
		MaxDataSlicesPerJob: config.MaxDataSlicesPerJob,
		InputSliceDataSize:  int64(config.InputSliceDataSize),
		InputSliceRowCount:  int64(config.InputSliceRowCount),
	}
}

// WithDataSizePerJob returns a copy of o that targets dataSize bytes per job.
func (o Options) WithDataSizePerJob(dataSize int64) Options {
	o.DataSizePerJob = dataSize
	return o
}

// Unlimited returns a copy of o that puts everything into a single job.
func (o Options) Unlimited() Options {
	o.DataSizePerJob = math.MaxInt64
	o.MaxDataSlicesPerJob = math.MaxInt
	return o
}
