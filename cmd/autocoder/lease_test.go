package main

import (
	"os"
	"testing"
)

func TestAcquireLease_SingleFlight(t *testing.T) {
	dir := t.TempDir()

	lease1, err := acquireLease(dir)
	if err != nil {
		t.Fatalf("acquire first lease: %v", err)
	}

	if _, err := acquireLease(dir); err == nil {
		t.Fatal("expected second lease acquisition to fail while first is held")
	}

	lease1.release()

	lease2, err := acquireLease(dir)
	if err != nil {
		t.Fatalf("acquire after release: %v", err)
	}
	lease2.release()
}

func TestAcquireLease_WritesPIDMetadata(t *testing.T) {
	dir := t.TempDir()

	lease, err := acquireLease(dir)
	if err != nil {
		t.Fatalf("acquire lease: %v", err)
	}
	defer lease.release()

	pid, err := readLeasePID(dir)
	if err != nil {
		t.Fatalf("read lease pid: %v", err)
	}
	if pid != os.Getpid() {
		t.Fatalf("expected pid %d, got %d", os.Getpid(), pid)
	}
}

func TestReleaseRemovesLeaseFile(t *testing.T) {
	dir := t.TempDir()

	lease, err := acquireLease(dir)
	if err != nil {
		t.Fatalf("acquire lease: %v", err)
	}
	lease.release()

	if _, err := os.Stat(leasePath(dir)); !os.IsNotExist(err) {
		t.Fatalf("expected lease file to be removed, stat err: %v", err)
	}
}

func TestReadLeasePID_NoLeaseFile(t *testing.T) {
	dir := t.TempDir()

	if _, err := readLeasePID(dir); err == nil {
		t.Fatal("expected an error reading a lease that was never acquired")
	}
}
