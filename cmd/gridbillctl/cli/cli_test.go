package cli_test

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gridbill/gridbill/cmd/gridbillctl/cli"
)

const tariffFile = `
categories:
  - code: res
    name: Residential
    bands:
      - {order: 1, from_kwh: "0", to_kwh: "100", rate_per_kwh: "0.18", fixed_charge: "10"}
      - {order: 2, from_kwh: "100", rate_per_kwh: "0.30"}
  - code: IND
    name: Industrial
    bands:
      - {order: 1, from_kwh: "0", rate_per_kwh: "0.12", fixed_charge: "50"}
`

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tariffs.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestTariffsImportDryRun(t *testing.T) {
	cmd := cli.NewRootCmdForTest()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"tariffs", "import", writeFile(t, tariffFile), "--dry-run"})
	require.NoError(t, cmd.Execute())
	require.Contains(t, buf.String(), "RES\tResidential\t2 bands")
	require.Contains(t, buf.String(), "IND\tIndustrial\t1 bands")
}

func TestTariffsImportRejectsGap(t *testing.T) {
	body := `
categories:
  - code: RES
    name: Residential
    bands:
      - {order: 1, from_kwh: "0", to_kwh: "100", rate_per_kwh: "0.18"}
      - {order: 2, from_kwh: "150", rate_per_kwh: "0.30"}
`
	cmd := cli.NewRootCmdForTest()
	cmd.SetOut(new(bytes.Buffer))
	cmd.SetArgs([]string{"tariffs", "import", writeFile(t, body), "--dry-run"})
	require.Error(t, cmd.Execute())
}

func TestTariffsImportMissingFile(t *testing.T) {
	cmd := cli.NewRootCmdForTest()
	cmd.SetOut(new(bytes.Buffer))
	cmd.SetArgs([]string{"tariffs", "import", filepath.Join(t.TempDir(), "missing.yaml"), "--dry-run"})
	require.Error(t, cmd.Execute())
}

func TestJobsTriggerValidatesBeforeConnecting(t *testing.T) {
	cases := [][]string{
		{"jobs", "trigger", "reindex"},
		{"jobs", "trigger", "debt-sync", "--as-of", "2025/01/31"},
		{"jobs", "trigger"},
	}
	for _, args := range cases {
		cmd := cli.NewRootCmdForTest()
		cmd.SetOut(new(bytes.Buffer))
		cmd.SetErr(new(bytes.Buffer))
		cmd.SetArgs(args)
		require.Error(t, cmd.Execute(), args)
	}
}
