package configuration

import (
	"math"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
	"k8s.io/apimachinery/pkg/api/resource"

	"github.com/G-Research/chunkpool/internal/common"
	"github.com/G-Research/chunkpool/internal/common/compress"
)

// Size is a number of bytes or rows. Infinity disables whatever limit the size controls.
type Size int64

const Infinity Size = math.MaxInt64

func (s Size) IsInfinite() bool {
	return s == Infinity
}

func (s Size) String() string {
	if s.IsInfinite() {
		return "inf"
	}
	return resource.NewQuantity(int64(s), resource.BinarySI).String()
}

type PoolConfig struct {
	// If true, no key is ever split across two jobs and jobs cover non-overlapping, increasing key ranges.
	EnableKeyGuarantee bool
	// Number of leading key columns that define key equality for primary tables.
	PrimaryPrefixLength int `validate:"gte=1"`
	// Number of leading key columns used to match foreign tables against primary key ranges.
	ForeignPrefixLength int `validate:"gte=0"`
	// Whole chunks smaller than this are never teleported. Infinity disables teleporting.
	MinTeleportChunkSize Size `validate:"gte=0"`
	// Upper bound on the number of chunk slices the pool may materialise over its lifetime.
	MaxTotalSliceCount int64 `validate:"gte=1"`
	// Target amount of data per job.
	DataSizePerJob Size `validate:"gte=1"`
	// Maximum number of primary data slices per job.
	MaxDataSlicesPerJob int `validate:"gte=1"`
	// Chunks larger than this are sliced before jobs are built.
	InputSliceDataSize Size `validate:"gte=1"`
	// Maniac slices with more rows than this are sliced by row index.
	InputSliceRowCount Size `validate:"gte=1"`
	// If true, chunks are sliced by the fetcher at key boundaries. Otherwise they are sliced locally by row index.
	SliceByKeys bool
	Fetcher     FetcherConfig
	Snapshot    SnapshotConfig
	// Maximum number of key strings interned when decoding snapshots and manifests.
	KeyInternerSize uint32 `validate:"required"`
}

type FetcherConfig struct {
	// Number of chunks fetched concurrently.
	Concurrency int `validate:"gte=1"`
	// Number of attempts made for each chunk before the fetch fails.
	Attempts uint `validate:"gte=1"`
	// Fetched slices are cached for this long. Zero disables the cache.
	CacheTTL time.Duration
}

type SnapshotConfig struct {
	Compression compress.Codec
}

// Validate checks the struct tags of c along with constraints between fields.
func (c PoolConfig) Validate() error {
	validate := validator.New()
	validate.RegisterStructValidation(PoolConfigValidation, PoolConfig{})
	return validate.Struct(c)
}

func PoolConfigValidation(sl validator.StructLevel) {
	c := sl.Current().Interface().(PoolConfig)
	if c.ForeignPrefixLength > c.PrimaryPrefixLength {
		sl.ReportError(c.ForeignPrefixLength, "ForeignPrefixLength", "ForeignPrefixLength", "ltefield", "PrimaryPrefixLength")
	}
}

// Default returns the configuration used when no config file is supplied.
func Default() PoolConfig {
	return PoolConfig{
		PrimaryPrefixLength:  1,
		ForeignPrefixLength:  0,
		MinTeleportChunkSize: Infinity,
		MaxTotalSliceCount:   1_000_000,
		DataSizePerJob:       256 * 1024 * 1024,
		MaxDataSlicesPerJob:  10_000,
		InputSliceDataSize:   Infinity,
		InputSliceRowCount:   Infinity,
		Fetcher: FetcherConfig{
			Concurrency: 16,
			Attempts:    3,
		},
		Snapshot: SnapshotConfig{
			Compression: compress.Zstd,
		},
		KeyInternerSize: 10_000,
	}
}

// ParseSize parses a quantity such as "16Mi" or "1G". "inf" and "infinity" parse as Infinity.
func ParseSize(s string) (Size, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "inf", "infinity":
		return Infinity, nil
	}
	q, err := resource.ParseQuantity(s)
	if err != nil {
		return 0, errors.WithStack(err)
	}
	v, ok := q.AsInt64()
	if !ok {
		return 0, errors.Errorf("size %s does not fit in an int64", s)
	}
	return Size(v), nil
}

// SizeDecodeHook decodes strings into Size. Numbers are left to mapstructure.
func SizeDecodeHook() mapstructure.DecodeHookFuncType {
	return func(
		f reflect.Type,
		t reflect.Type,
		data interface{},
	) (interface{}, error) {
		if f.Kind() != reflect.String || t != reflect.TypeOf(Size(0)) {
			return data, nil
		}
		return ParseSize(data.(string))
	}
}

// Decode decodes a raw map into a PoolConfig starting from Default, then validates it.
func Decode(input map[string]interface{}) (PoolConfig, error) {
	c := Default()
	if err := common.DecodeConfig(input, &c, SizeDecodeHook()); err != nil {
		return c, err
	}
	return c, c.Validate()
}
