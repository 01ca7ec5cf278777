package jobspec

import (
	"fmt"
	"strings"

	"batchctl/internal/job"
)

// Preamble makes bash evaluate every following argument as one statement,
// so bootstrap statements and the user command share a single shell.
var Preamble = []string{"/bin/bash", "-c", `for i in "$@"; do eval "$i"; done`, "batchctl"}

// envPrologue loads the image's login environment and turns on strict mode
// before anything else runs.
var envPrologue = []string{
	"set -a",
	"if [ -f /etc/environment ]; then source /etc/environment; fi",
	"if [ -f /etc/default/locale ]; then source /etc/default/locale; fi",
	"set +a",
	"if [ -f /etc/profile ]; then source /etc/profile; fi",
	"set -euo pipefail",
}

// Tuning for volume attachment on the instance.
const (
	devnodeAttempts  = 100
	attachWaitChecks = 32
	volumeType       = "st1"
	jobTagKey        = "batchctl_job"
)

const nfsOptions = "nfsvers=4.1,rsize=1048576,wsize=1048576,hard,timeo=600,retrans=2"

// script is an ordered list of shell statements. Each statement is evaluated
// on its own, so every entry must be complete.
type script []string

func (s *script) add(format string, args ...any) {
	*s = append(*s, fmt.Sprintf(format, args...))
}

// blockPrelude installs the volume tooling and reads the instance identity.
// It runs once, before the first block volume.
func blockPrelude() script {
	return script{
		"apt-get update -qq",
		"apt-get install -qqy --no-install-suggests --no-install-recommends httpie awscli jq psmisc lsof",
		"iid=$(http http://169.254.169.254/latest/dynamic/instance-identity/document)",
		`aws configure set default.region $(echo "$iid" | jq -r .region)`,
		`az=$(echo "$iid" | jq -r .availabilityZone)`,
		// seed from the PID and the clock so instances starting together pick
		// different devnodes and delays
		"RANDOM=$(( $$ + 10#$(date +%N) ))",
	}
}

// blockVolume provisions, attaches, formats and mounts one volume. The
// release function is pushed onto BATCHCTL_TRAPS so every volume created so
// far is detached and deleted on exit, newest first.
func blockVolume(i int, m job.BlockMount) script {
	vid := fmt.Sprintf("$vid_%d", i)
	dev := fmt.Sprintf("$devnode_%d", i)
	mp := shellQuote(m.Mountpoint)

	var s script
	s.add("echo Creating volume for %s >&2", mp)
	s.add("vid_%d=$(aws ec2 create-volume --availability-zone $az --size %d --volume-type %s | jq -r .VolumeId)", i, m.SizeGB, volumeType)
	s.add("aws ec2 create-tags --resource %s --tags Key=%s,Value=$AWS_BATCH_JOB_ID", vid, jobTagKey)
	s = append(s, releaseFunc(i, vid, mp))
	s.add(`BATCHCTL_TRAPS="batchctl_release_%d; ${BATCHCTL_TRAPS:-}"`, i)
	s.add(`trap "$BATCHCTL_TRAPS" EXIT`)

	s.add("echo Waiting for volume %s to be created >&2", vid)
	s.add("while [[ $(aws ec2 describe-volumes --volume-ids %s | jq -r '.Volumes[0].State') != available ]]; do sleep 1; done", vid)

	s.add("echo Finding unused devnode for volume %s >&2", vid)
	s.add("attached_%d=0", i)
	s = append(s, strings.Join([]string{
		fmt.Sprintf("for try in $(seq 1 %d); do", devnodeAttempts),
		"if [[ $try -gt 1 ]]; then sleep $(( 2 + RANDOM % 5 )); fi;",
		"free=(); for l in {f..z}; do [[ -e /dev/xvd$l ]] || free+=(/dev/xvd$l); done;",
		"if [[ ${#free[@]} -eq 0 ]]; then continue; fi;",
		fmt.Sprintf("devnode_%d=${free[RANDOM %% ${#free[@]}]};", i),
		fmt.Sprintf(`if aws ec2 attach-volume --instance-id $(echo "$iid" | jq -r .instanceId) --volume-id %s --device %s; then attached_%d=1; break; fi;`, vid, dev, i),
		"done",
	}, " "))
	s.add(`if [[ $attached_%d -ne 1 ]]; then echo "Unable to attach %s after %d attempts" >&2; exit 1; fi`, i, vid, devnodeAttempts)

	s.add("echo Waiting for volume %s to attach on %s >&2", vid, dev)
	s.add("for try in $(seq 1 %d); do if [[ $(aws ec2 describe-volumes --volume-ids %s | jq -r '.Volumes[0].State') == in-use ]]; then break; fi; sleep $(( 2 ** (1 + try %% 5) + RANDOM %% 11 )); done", attachWaitChecks, vid)
	s.add("while [[ ! -e %s ]]; do sleep 1; done", dev)

	s.add("echo Making filesystem on %s >&2", dev)
	s.add("mkfs.ext4 -q %s", dev)
	s.add("mkdir -p %s", mp)
	s.add("mount %s %s", dev, mp)
	s.add("echo Devnode %s mounted on %s >&2", dev, mp)
	return s
}

// releaseFunc defines batchctl_release_<i>. Cleanup is best effort, so the
// function turns errexit off; after two failed polls the volume is
// force-detached.
func releaseFunc(i int, vid, mp string) string {
	return strings.Join([]string{
		fmt.Sprintf("batchctl_release_%d() {", i),
		"set +e; cd /;",
		fmt.Sprintf("fuser -m %s >&2 || echo Fuser exit code $? >&2;", mp),
		fmt.Sprintf("lsof %s | grep -iv lsof | awk '{print $2}' | grep -v PID | xargs -r kill -9 || echo LSOF exit code $? >&2;", mp),
		"sleep 3;",
		fmt.Sprintf("umount %s || umount -l %s;", mp, mp),
		fmt.Sprintf("aws ec2 detach-volume --volume-id %s;", vid),
		"sleep 10; try=1;",
		fmt.Sprintf("while ! aws ec2 describe-volumes --volume-ids %s | jq -re '.Volumes[0].Attachments==[]'; do", vid),
		fmt.Sprintf("if [[ $try -gt 2 ]]; then echo Forcefully detaching volume %s >&2; aws ec2 detach-volume --force --volume-id %s; sleep 10; break; fi;", vid, vid),
		"sleep 10; try=$(( try + 1 ));",
		"done;",
		fmt.Sprintf("echo Deleting volume %s >&2; aws ec2 delete-volume --volume-id %s;", vid, vid),
		"}",
	}, " ")
}

// sharedFilesystem mounts the EFS target in the instance's subnet. The
// mount targets come from the EFSDescEnv variable.
func sharedFilesystem(mountpoint string) script {
	mp := shellQuote(mountpoint)
	var s script
	s.add("mkdir -p %s", mp)
	s.add("MAC=$(curl -s http://169.254.169.254/latest/meta-data/mac)")
	s.add("export SUBNET_ID=$(curl -s http://169.254.169.254/latest/meta-data/network/interfaces/macs/$MAC/subnet-id)")
	s.add(`NFS_ENDPOINT=$(echo "$%s" | jq -r ".[] | select(.SubnetId == env.SUBNET_ID) | .IpAddress")`, EFSDescEnv)
	s.add("mount -t nfs -o %s $NFS_ENDPOINT:/ %s", nfsOptions, mp)
	return s
}

// fetchExecutable downloads the staged payload to a temp file and runs it.
func fetchExecutable(url string) script {
	return script{
		`BATCH_SCRIPT=$(mktemp --tmpdir "$AWS_BATCH_CE_NAME.$AWS_BATCH_JQ_NAME.$AWS_BATCH_JOB_ID.XXXXX")`,
		"apt-get update -qq",
		"apt-get install -qqy --no-install-suggests --no-install-recommends curl ca-certificates gnupg",
		fmt.Sprintf("curl -sSf %s > $BATCH_SCRIPT", shellQuote(url)),
		"chmod +x $BATCH_SCRIPT",
		"$BATCH_SCRIPT",
	}
}

// runWorkflow runs the interpreter on the decoded definition and input,
// pushes results under the job's prefix and records them in table.
func runWorkflow(runner, table string) script {
	return script{fmt.Sprintf(
		"%s --no-container --preserve-entire-environment <(echo $%s | base64 -d) <(echo $%s | base64 -d | tractor pull) | tractor push $%s/$AWS_BATCH_JOB_ID | dynamoq update %s $AWS_BATCH_JOB_ID",
		runner, WorkflowDefEnv, WorkflowJobEnv, StagingURLEnv, shellQuote(table),
	)}
}

// shellQuote wraps s in single quotes for bash.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
