// Copyright 2026 The Armored Kernel Boot authors. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// kbootctl runs kernel verification and selection against a disk image
// file, the way firmware would against a real device. It is a development
// and provisioning aid: it reports which partition would boot, updates the
// attempt counters, and can extract the verified kernel body.
package main

import (
	"encoding/base64"
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"golang.org/x/mod/sumdb/note"
	"k8s.io/klog/v2"

	"github.com/transparency-dev/armored-kernel-boot/boot"
	"github.com/transparency-dev/armored-kernel-boot/disk"
	"github.com/transparency-dev/armored-kernel-boot/secdata"
	"github.com/transparency-dev/armored-kernel-boot/workbuf"
)

type Config struct {
	image  string
	subkey string
	// verifier, when set, requires the subkey file to be a signed note
	// carrying the base64 packed key.
	verifier string

	secdata        string
	initialVersion uint

	parts partList

	developer   bool
	recovery    bool
	nofail      bool
	signedOnly  bool
	externalGPT bool

	out string
}

var conf *Config

func init() {
	log.SetFlags(0)
	log.SetOutput(os.Stdout)

	conf = &Config{}

	flag.StringVar(&conf.image, "i", "", "disk image file")
	flag.StringVar(&conf.subkey, "k", "", "packed kernel subkey file")
	flag.StringVar(&conf.verifier, "T", "", "note verifier key; the subkey file must then be a signed note")
	flag.StringVar(&conf.secdata, "s", "", "secure version store file (created if missing)")
	flag.UintVar(&conf.initialVersion, "V", 0, "initial version floor when creating the store")
	flag.Var(&conf.parts, "p", "kernel partition as start:size:priority:tries in sectors (repeatable)")
	flag.BoolVar(&conf.developer, "d", false, "developer mode")
	flag.BoolVar(&conf.recovery, "r", false, "recovery mode")
	flag.BoolVar(&conf.nofail, "n", false, "nofail boot, keep attempt counters")
	flag.BoolVar(&conf.signedOnly, "S", false, "require official signatures even in developer mode")
	flag.BoolVar(&conf.externalGPT, "x", false, "partition table was read from an external device")
	flag.StringVar(&conf.out, "o", "", "write the verified kernel body to this file")

	klog.InitFlags(nil)
}

// partList collects repeated -p flags.
type partList []disk.Partition

func (l *partList) String() string {
	var s []string
	for _, p := range *l {
		s = append(s, fmt.Sprintf("%d:%d:%d:%d", p.Start, p.Size, p.Priority, p.Tries))
	}
	return strings.Join(s, ",")
}

func (l *partList) Set(v string) error {
	f := strings.Split(v, ":")
	if len(f) != 4 {
		return fmt.Errorf("want start:size:priority:tries, got %q", v)
	}
	var n [4]uint64
	for i, s := range f {
		var err error
		if n[i], err = strconv.ParseUint(s, 10, 32); err != nil {
			return fmt.Errorf("bad field %q: %v", s, err)
		}
	}
	*l = append(*l, disk.Partition{
		Start:    n[0],
		Size:     n[1],
		Priority: int(n[2]),
		Tries:    int(n[3]),
	})
	return nil
}

// loadSubkey reads the packed kernel subkey, checking the note signature
// when a verifier is configured.
func loadSubkey() ([]byte, error) {
	raw, err := os.ReadFile(conf.subkey)
	if err != nil {
		return nil, err
	}
	if conf.verifier == "" {
		return raw, nil
	}

	v, err := note.NewVerifier(conf.verifier)
	if err != nil {
		return nil, fmt.Errorf("bad verifier key: %v", err)
	}
	n, err := note.Open(raw, note.VerifierList(v))
	if err != nil {
		return nil, fmt.Errorf("subkey note verification failed: %v", err)
	}
	key, err := base64.StdEncoding.DecodeString(strings.TrimSpace(n.Text))
	if err != nil {
		return nil, fmt.Errorf("subkey note payload: %v", err)
	}
	return key, nil
}

func openStore() (secdata.Store, error) {
	if conf.secdata == "" {
		return secdata.NewMemStore(uint32(conf.initialVersion)), nil
	}
	if s, err := secdata.OpenFile(conf.secdata); err == nil {
		return s, nil
	} else if !os.IsNotExist(err) {
		return nil, err
	}
	return secdata.CreateFile(conf.secdata, uint32(conf.initialVersion))
}

func run() error {
	if conf.image == "" || conf.subkey == "" {
		return fmt.Errorf("both -i and -k are required")
	}
	if len(conf.parts) == 0 {
		return fmt.Errorf("at least one -p partition is required")
	}

	subkey, err := loadSubkey()
	if err != nil {
		return fmt.Errorf("reading subkey: %v", err)
	}

	f, err := os.Open(conf.image)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		return err
	}
	d, err := disk.NewImage(f, info.Size(), 512)
	if err != nil {
		return err
	}

	store, err := openStore()
	if err != nil {
		return fmt.Errorf("opening version store: %v", err)
	}

	src := &disk.StaticSource{
		Partitions: conf.parts,
		Commit: func(ps []disk.Partition) error {
			for i, p := range ps {
				log.Printf("partition %d: priority %d tries %d successful %t",
					i+1, p.Priority, p.Tries, p.Successful)
			}
			return nil
		},
	}

	var flags boot.Flags
	if conf.developer {
		flags |= boot.FlagDeveloperMode
	}
	if conf.recovery {
		flags |= boot.FlagRecoveryMode
	}
	if conf.nofail {
		flags |= boot.FlagNofailBoot
	}
	if conf.signedOnly {
		flags |= boot.FlagDevBootSignedOnly
	}
	if conf.externalGPT {
		flags |= boot.FlagExternalGPT
	}

	c := &boot.Context{
		Flags:   flags,
		Secdata: store,
		Workbuf: workbuf.New(boot.RecommendedWorkbufSize),
	}
	params := &boot.Params{KernelSubkey: subkey}

	if err := boot.LoadKernel(c, d, src, params); err != nil {
		return err
	}

	log.Printf("booting partition %d (%s)", params.PartitionNumber, params.PartitionGUID)
	log.Printf("kernel version %#x signed %t", params.KernelVersion, params.KernelSigned)
	log.Printf("body %d bytes load address %#x bootloader %#x+%#x",
		params.KernelSize, params.BodyLoadAddress, params.BootloaderAddress, params.BootloaderSize)

	if conf.out != "" {
		if err := os.WriteFile(conf.out, params.KernelBuffer[:params.KernelSize], 0o644); err != nil {
			return err
		}
		log.Printf("wrote kernel body to %s", conf.out)
	}

	return nil
}

func main() {
	var err error

	defer func() {
		if err != nil {
			log.Fatalf("fatal error, %s", err)
		}
	}()

	flag.Parse()

	if flag.NFlag() == 0 {
		flag.PrintDefaults()
		return
	}

	err = run()
}
