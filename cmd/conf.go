// Copyright © 2026 Genome Research Limited
//
//  This file is part of seqrun.
//
//  seqrun is free software: you can redistribute it and/or modify
//  it under the terms of the GNU Lesser General Public License as published by
//  the Free Software Foundation, either version 3 of the License, or
//  (at your option) any later version.
//
//  seqrun is distributed in the hope that it will be useful,
//  but WITHOUT ANY WARRANTY; without even the implied warranty of
//  MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
//  GNU Lesser General Public License for more details.
//
//  You should have received a copy of the GNU Lesser General Public License
//  along with seqrun. If not, see <http://www.gnu.org/licenses/>.

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

const defaultYML = `# The format of this file is YAML

# runner: Which job execution backend should 'seqrun run' use by default?
# One of:
#   local   - run commands as child processes on this machine
#   cluster - submit to a Grid Engine or Slurm cluster using its command line
#             tools (see clusterdialect)
#   drmaa   - submit through a DRMAA session (only if seqrun was built with the
#             drmaa build tag)
#   mock    - submit to seqrun's own mock batch scheduler
runner: "local"

# maxconcurrentjobs: How many commands should 'seqrun run' have running at
# once, by default?
maxconcurrentjobs: 10

# pollinterval: How many seconds should 'seqrun run' wait between checks on
# its running commands?
pollinterval: 5

# startpollinterval and startattempts: After submitting a command, how many
# seconds to wait between checks that the backend has accepted it, and how many
# times to check before giving up waiting.
startpollinterval: 5
startattempts: 12

# dispatcherceiling: What counts against maxconcurrentjobs? 'dispatcher' counts
# only the commands 'seqrun run' started; 'backend' counts every job your
# backend lists for you, including ones submitted by something else.
dispatcherceiling: "dispatcher"

# limits: How many commands in each limit group may run at once, as a comma
# separated list of group=number. A command is put in limit groups by naming
# them after its job name and a colon, eg. "qc:irods,lustre<tab>my command".
# Groups not listed here are unlimited. 'seqrun run --limit' overrides these.
#limits: "irods=3,lustre=10"

# logdir: Where should command output files be written?
# This defaults to each command's working directory.
#logdir: "~/seqrun_logs"

# shell: Which shell is used to start local commands and mock scheduler jobs?
shell: "bash"

# clusterdialect: For the cluster runner, 'sge' (qsub, qstat and qdel) or
# 'slurm' (sbatch, squeue and scancel). The slurm dialect also works with the
# mock scheduler, if seqrun is symlinked as sbatch, squeue and scancel.
clusterdialect: "sge"

# clusterqueue: For the cluster runner, the queue (sge) or partition (slurm) to
# submit to. Blank means the cluster's default.
clusterqueue: ""

# clusterquerycachesecs: For the cluster runner, how many seconds the output of
# qstat or squeue can be reused for. 0 means query every time.
clusterquerycachesecs: 1

# mockdir: Where should the mock scheduler keep its job table, wrapper scripts
# and exit code files?
# The final directory name will be suffixed with "_[deployment]", eg. by default
# when developing the directory will be ~/.seqrun_mock_development.
mockdir: "~/.seqrun_mock"

# mockstore: What kind of database holds the mock scheduler's job table? One of
# 'sqlite', 'bolt' or 'memory' (which is forgotten when seqrun exits, so is only
# useful with 'seqrun run --runner mock').
mockstore: "sqlite"

# mockdbfile: The database file of the mock scheduler's job table.
# This defaults to a file named "jobs.db" in mockdir. You can set this to an
# absolute path to ignore mockdir.
mockdbfile: "jobs.db"

# mockmaxjobs: How many mock scheduler jobs can run at once?
mockmaxjobs: 4

# mocksbatchdelay: How many seconds must a mock scheduler job wait after being
# submitted before it can start?
mocksbatchdelay: 0

# mockpartition: The partition of mock scheduler jobs submitted without one.
mockpartition: "normal"
`

var confDefault bool

// confCmd represents the conf command
var confCmd = &cobra.Command{
	Use:   "conf",
	Short: "See seqrun's configuration",
	Long: `See the configuration values seqrun will use.

This command also shows where a particular value was defined.

For a list of all possible configuration settings, their descriptions and
default values in the yml format suitable for using as one of your config files,
use the --default option.

seqrun will load its configuration settings from one or more files named
.seqrun_config[.production|.development].yml found in these directories, in
order of precedence:
1) The current directory
2) Your home directory
3) The directory pointed to by the environment variable $SEQRUN_CONFIG_DIR

.seqrun_config.yml files are always read, and can be used to define settings
common to both production and development deployments.
.seqrun_config.production.yml files are only read in a production context:
either a --deployment production option has been passed to the seqrun
executable, or the environment variable $SEQRUN_DEPLOYMENT has been set to
'production'. A similar story applies for .seqrun_config.development.yml files,
which are used when things are set to 'development'.
The default deployment is production (unless you're in the git repository for
seqrun, in which case it is development).

If a setting is found in none of the files read, then an environment variable is
checked: SEQRUN_<setting name in caps>. Eg. to define the runner option you
might do:
export SEQRUN_RUNNER="cluster"`,
	Run: func(cmd *cobra.Command, args []string) {
		if confDefault {
			fmt.Fprint(stdout, defaultYML)
			return
		}

		fmt.Fprintf(stdout, "%s", config)
	},
}

func init() {
	RootCmd.AddCommand(confCmd)

	// flags specific to this sub-command
	confCmd.Flags().BoolVarP(&confDefault, "default", "d", false, "print default config yml file to STDOUT")
}
