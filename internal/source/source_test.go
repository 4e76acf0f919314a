package source_test

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/breakoutbot/internal/domain"
	"github.com/alanyoungcy/breakoutbot/internal/source"
)

type memBlobs map[string]string

func (m memBlobs) Get(_ context.Context, path string) (io.ReadCloser, error) {
	body, ok := m[path]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return io.NopCloser(strings.NewReader(body)), nil
}

func (m memBlobs) Stat(_ context.Context, key string) (domain.ObjectInfo, error) {
	body, ok := m[key]
	if !ok {
		return domain.ObjectInfo{}, domain.ErrNotFound
	}
	return domain.ObjectInfo{Key: key, Size: int64(len(body)), LastModified: time.Now()}, nil
}

// agedBlobs reports every object as last written at modified.
type agedBlobs struct {
	memBlobs
	modified time.Time
}

func (a agedBlobs) Stat(ctx context.Context, key string) (domain.ObjectInfo, error) {
	info, err := a.memBlobs.Stat(ctx, key)
	info.LastModified = a.modified
	return info, err
}

func logger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestSignals_Load(t *testing.T) {
	blobs := memBlobs{source.DefaultSignalsKey: "Stock Name,Security ID,Signal,Entry,SL,Quantity,Target\n" +
		"RELIANCE,2885,BUY,2950.5,2920,33,\n" +
		"HDFCBANK,1333.0,SELL,1650,1665,66,1620\n" +
		"BROKEN,777,HOLD,10,9,1,\n" +
		"NOPRICE,778,BUY,,9,1,\n"}

	sigs, err := source.NewSignals(blobs, "", logger()).Load(context.Background())
	require.NoError(t, err)
	require.Len(t, sigs, 2)

	assert.Equal(t, domain.Signal{
		InstrumentID: "2885", Name: "RELIANCE", Direction: domain.DirectionBuy,
		Entry: 2950.5, Stop: 2920, Quantity: 33,
	}, sigs[0])
	assert.Equal(t, "1333", sigs[1].InstrumentID)
	assert.Equal(t, domain.DirectionSell, sigs[1].Direction)
	assert.InDelta(t, 1620.0, sigs[1].Target, 1e-9)
}

func TestSignals_MissingColumn(t *testing.T) {
	blobs := memBlobs{"k": "Stock Name,Signal,Entry,SL\nX,BUY,1,0.5\n"}
	_, err := source.NewSignals(blobs, "k", logger()).Load(context.Background())
	assert.Error(t, err)
}

func TestSignals_EmptyFile(t *testing.T) {
	blobs := memBlobs{"k": ""}
	sigs, err := source.NewSignals(blobs, "k", logger()).Load(context.Background())
	require.NoError(t, err)
	assert.Empty(t, sigs)
}

func TestSignals_ObjectMissing(t *testing.T) {
	_, err := source.NewSignals(memBlobs{}, "k", logger()).Load(context.Background())
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestLeverage_Load(t *testing.T) {
	blobs := memBlobs{source.DefaultLeverageKey: "Stock Name,Instrument ID,MIS_LEVERAGE\n" +
		"RELIANCE,2885,5\n" +
		"HDFCBANK,1333,x\n" +
		"TCS,11536,4.5\n"}

	m, err := source.NewLeverage(blobs, "", logger()).Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"2885": 5, "11536": 4.5}, m)
}

func TestLeverage_MissingLeverageColumnDefaultsToOne(t *testing.T) {
	blobs := memBlobs{"k": "Instrument ID\n2885\n1333\n"}

	m, err := source.NewLeverage(blobs, "k", logger()).Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"2885": 1, "1333": 1}, m)
}

func TestLeverage_MissingInstrumentColumn(t *testing.T) {
	blobs := memBlobs{"k": "Symbol,MIS_LEVERAGE\nX,5\n"}
	_, err := source.NewLeverage(blobs, "k", logger()).Load(context.Background())
	assert.Error(t, err)
}

const twoSignals = "Stock Name,Security ID,Signal,Entry,SL\nX,1,BUY,100,98\nY,2,BUY,100,90\n"

func TestSignals_RequireFresh(t *testing.T) {
	ist := time.FixedZone("IST", 5*3600+1800)

	fresh := source.NewSignals(memBlobs{"k": twoSignals}, "k", logger())
	fresh.RequireFresh(ist)
	sigs, err := fresh.Load(context.Background())
	require.NoError(t, err)
	assert.Len(t, sigs, 2)

	stale := source.NewSignals(agedBlobs{memBlobs{"k": twoSignals}, time.Now().Add(-72 * time.Hour)}, "k", logger())
	stale.RequireFresh(ist)
	_, err = stale.Load(context.Background())
	assert.ErrorIs(t, err, domain.ErrStaleSignals)

	missing := source.NewSignals(memBlobs{}, "k", logger())
	missing.RequireFresh(ist)
	_, err = missing.Load(context.Background())
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
