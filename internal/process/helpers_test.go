package process

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/loykin/xchainctl/internal/record"
)

func witnessRec(t *testing.T, pid int) record.ServerRecord {
	t.Helper()
	r, err := record.NewWitness("witness0", "/bin/sh", "/dev/null", record.WitnessEndpoints{IP: "127.0.0.1", RPCPort: 6010})
	require.NoError(t, err)
	return r.WithRun(pid, 0)
}
