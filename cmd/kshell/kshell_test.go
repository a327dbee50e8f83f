package main

import (
	"testing"

	"maverickos/blockdev"
)

func mkTestDisk(t *testing.T) blockdev.Disk {
	return blockdev.NewMemDisk(defaultDiskSectors)
}

func TestBootAndShutdown(t *testing.T) {
	env, err := bootOnDisk(mkTestDisk(t))
	if err != nil {
		t.Fatalf("bootOnDisk: %v", err)
	}
	if env.init == nil {
		t.Fatalf("bootOnDisk left init process nil")
	}
	if err := env.shutdown(); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestScenarioS1Donation(t *testing.T) {
	env, err := bootOnDisk(mkTestDisk(t))
	if err != nil {
		t.Fatalf("bootOnDisk: %v", err)
	}
	defer env.shutdown()

	lines, serr := scenarioDonation(env)
	if serr != nil {
		t.Fatalf("scenarioDonation: %v (lines so far: %v)", serr, lines)
	}
	if len(lines) != 3 {
		t.Fatalf("expected 3 reported lines, got %d: %v", len(lines), lines)
	}
}

func TestScenarioS2AlarmFairness(t *testing.T) {
	env, err := bootOnDisk(mkTestDisk(t))
	if err != nil {
		t.Fatalf("bootOnDisk: %v", err)
	}
	defer env.shutdown()

	lines, serr := scenarioAlarmFairness(env)
	if serr != nil {
		t.Fatalf("scenarioAlarmFairness: %v (lines so far: %v)", serr, lines)
	}
	if len(lines) != 10 {
		t.Fatalf("expected 10 reported lines, got %d: %v", len(lines), lines)
	}
}

func TestScenarioS3ForkWait(t *testing.T) {
	env, err := bootOnDisk(mkTestDisk(t))
	if err != nil {
		t.Fatalf("bootOnDisk: %v", err)
	}
	defer env.shutdown()

	lines, serr := scenarioForkWait(env)
	if serr != nil {
		t.Fatalf("scenarioForkWait: %v (lines so far: %v)", serr, lines)
	}
	if len(lines) != 2 || lines[0] != "child: 5" || lines[1] != "parent got 5" {
		t.Fatalf("unexpected scenario output: %v", lines)
	}
}

func TestScenarioS4CrashMidRename(t *testing.T) {
	env, err := bootOnDisk(mkTestDisk(t))
	if err != nil {
		t.Fatalf("bootOnDisk: %v", err)
	}
	defer env.shutdown()

	lines, serr := scenarioCrashMidRename(env)
	if serr != nil {
		t.Fatalf("scenarioCrashMidRename: %v (lines so far: %v)", serr, lines)
	}
	if len(lines) != 4 {
		t.Fatalf("expected 4 reported lines, got %d: %v", len(lines), lines)
	}
}

func TestScenarioS5MmapOverwrite(t *testing.T) {
	env, err := bootOnDisk(mkTestDisk(t))
	if err != nil {
		t.Fatalf("bootOnDisk: %v", err)
	}
	defer env.shutdown()

	lines, serr := scenarioMmapOverwrite(env)
	if serr != nil {
		t.Fatalf("scenarioMmapOverwrite: %v (lines so far: %v)", serr, lines)
	}
	if len(lines) != 2 {
		t.Fatalf("expected 2 reported lines, got %d: %v", len(lines), lines)
	}
}

func TestScenarioS6StackGrowth(t *testing.T) {
	env, err := bootOnDisk(mkTestDisk(t))
	if err != nil {
		t.Fatalf("bootOnDisk: %v", err)
	}
	defer env.shutdown()

	lines, serr := scenarioStackGrowth(env)
	if serr != nil {
		t.Fatalf("scenarioStackGrowth: %v (lines so far: %v)", serr, lines)
	}
	if len(lines) != 2 {
		t.Fatalf("expected 2 reported lines, got %d: %v", len(lines), lines)
	}
}
