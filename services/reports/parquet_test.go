package reports

import (
	"encoding/csv"
	"errors"
	"math/big"
	"os"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/reader"

	"tipledger/core/state"
	"tipledger/native/tipping"
	"tipledger/storage"
)

func seededEngine(t *testing.T) *tipping.Engine {
	t.Helper()
	engine, err := tipping.NewEngine(tipping.DefaultConfig())
	require.NoError(t, err)
	engine.SetState(state.NewManager(storage.NewMemDB()))
	engine.SetNowFunc(func() int64 { return 1_700_000_000 })
	op := tipping.DefaultOperator
	require.NoError(t, engine.SetMinimumTip(op, "1"))
	require.NoError(t, engine.RegisterTrackWithLabel(op, "1", "artist.testnet", "label.testnet", 20))
	require.NoError(t, engine.RegisterTrack(op, "2", "solo.testnet"))
	_, err = engine.RecordTip("fan.testnet", "1", big.NewInt(1000))
	require.NoError(t, err)
	_, err = engine.RecordTip("fan.testnet", "2", big.NewInt(500))
	require.NoError(t, err)
	return engine
}

func TestExportWritesParquetAndCSV(t *testing.T) {
	engine := seededEngine(t)
	summary, err := Export(engine.Queries(), t.TempDir())
	require.NoError(t, err)
	require.Equal(t, 2, summary.Rows)

	fr, err := local.NewLocalFileReader(summary.ParquetPath)
	require.NoError(t, err)
	defer fr.Close()
	pr, err := reader.NewParquetReader(fr, new(tipRow), 1)
	require.NoError(t, err)
	defer pr.ReadStop()
	require.Equal(t, int64(2), pr.GetNumRows())
	rows := make([]tipRow, 2)
	require.NoError(t, pr.Read(&rows))

	require.Equal(t, int64(1), rows[0].TipID)
	require.Equal(t, "label.testnet", rows[0].Label)
	require.Equal(t, "194", rows[0].LabelShare)
	require.Equal(t, "776", rows[0].OwnerShare)
	require.Equal(t, "2023-11-14T22:13:20Z", rows[0].CreatedAtUTC)
	require.Equal(t, "solo.testnet", rows[1].Receiver)
	require.Equal(t, "0", rows[1].LabelShare)
	require.Equal(t, "485", rows[1].OwnerShare)

	file, err := os.Open(summary.CSVPath)
	require.NoError(t, err)
	defer file.Close()
	records, err := csv.NewReader(file).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 3)
	require.Equal(t, csvHeader, records[0])
	require.Equal(t, "1000", records[1][5])
}

type failingSource struct{}

func (failingSource) Export(func(tipping.ExportRow) error) error { return errors.New("boom") }

func TestExportPropagatesSourceErrors(t *testing.T) {
	_, err := Export(failingSource{}, t.TempDir())
	require.Error(t, err)
	_, err = Export(nil, t.TempDir())
	require.Error(t, err)
}
