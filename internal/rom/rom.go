//go:build tinygo

// Package rom exposes the RP2350 bootrom calls the bootloader needs
// for its own persistence: raw flash program/erase/read on the inactive
// partition, and a reboot into either partition once an update has
// been committed. TinyGo's machine.Flash assumes a single firmware
// image living at its own base offset and is not usable for writing
// into an alternate partition, so these go straight to the ROM
// function table instead, the same workaround the bootrom's A/B
// partition support requires generally.
package rom

/*
#include <stdint.h>
#include <stddef.h>

#define ROM_TABLE_CODE(c1, c2) ((c1) | ((c2) << 8))

#define ROM_FUNC_REBOOT                  ROM_TABLE_CODE('R', 'B')
#define ROM_FUNC_EXPLICIT_BUY            ROM_TABLE_CODE('E', 'B')
#define ROM_FUNC_GET_SYS_INFO            ROM_TABLE_CODE('G', 'S')
#define ROM_FUNC_CONNECT_INTERNAL_FLASH  ROM_TABLE_CODE('I', 'F')
#define ROM_FUNC_FLASH_EXIT_XIP          ROM_TABLE_CODE('E', 'X')
#define ROM_FUNC_FLASH_RANGE_ERASE       ROM_TABLE_CODE('R', 'E')
#define ROM_FUNC_FLASH_RANGE_PROGRAM     ROM_TABLE_CODE('R', 'P')
#define ROM_FUNC_FLASH_FLUSH_CACHE       ROM_TABLE_CODE('F', 'C')

#define BOOTROM_TABLE_LOOKUP_OFFSET 0x16
#define RT_FLAG_FUNC_ARM_SEC         0x0004

#define REBOOT2_FLAG_REBOOT_TYPE_FLASH_UPDATE 0x4
#define REBOOT2_FLAG_NO_RETURN_ON_SUCCESS     0x100

#define XIP_BASE            0x10000000
#define PARTITION_A_OFFSET  0x2000
#define PARTITION_B_OFFSET  0x1F2000
#define PARTITION_MAX_SIZE  0x1F0000

#define FLASH_SECTOR_SIZE      4096
#define FLASH_SECTOR_ERASE_CMD 0x20
#define SYS_INFO_BOOT_INFO     0x0040

typedef void *(*rom_table_lookup_fn)(uint32_t code, uint32_t mask);
typedef int   (*rom_reboot_fn)(uint32_t flags, uint32_t delay_ms, uint32_t p0, uint32_t p1);
typedef int   (*rom_explicit_buy_fn)(uint8_t *buffer, uint32_t buffer_size);
typedef int   (*rom_get_sys_info_fn)(uint32_t *out_buffer, uint32_t out_buffer_word_size, uint32_t flags);
typedef void  (*flash_connect_internal_fn)(void);
typedef void  (*flash_exit_xip_fn)(void);
typedef void  (*flash_range_erase_fn)(uint32_t addr, size_t count, uint32_t block_size, uint8_t block_cmd);
typedef void  (*flash_range_program_fn)(uint32_t addr, const uint8_t *data, size_t count);
typedef void  (*flash_flush_cache_fn)(void);

static void *rom_lookup(uint32_t code) {
    rom_table_lookup_fn lookup = (rom_table_lookup_fn)(uintptr_t)*(uint16_t*)(BOOTROM_TABLE_LOOKUP_OFFSET);
    return lookup(code, RT_FLAG_FUNC_ARM_SEC);
}

static int rom_confirm_partition(void) {
    rom_explicit_buy_fn fn = (rom_explicit_buy_fn)rom_lookup(ROM_FUNC_EXPLICIT_BUY);
    if (!fn) return -1;
    uint32_t workarea[64];
    return fn((uint8_t*)workarea, sizeof(workarea));
}

static uint32_t rom_partition_offset(int partition) {
    return (partition == 0) ? PARTITION_A_OFFSET : PARTITION_B_OFFSET;
}

static void rom_reboot_to_partition(int partition) {
    rom_reboot_fn fn = (rom_reboot_fn)rom_lookup(ROM_FUNC_REBOOT);
    if (!fn) return;
    uint32_t xip_addr = XIP_BASE + rom_partition_offset(partition);
    fn(REBOOT2_FLAG_REBOOT_TYPE_FLASH_UPDATE | REBOOT2_FLAG_NO_RETURN_ON_SUCCESS, 1000, xip_addr, 0);
    for (volatile uint32_t i = 0; i < 20000000; i++) { }
    while (1) { __asm__("wfi"); }
}

static int rom_current_partition(void) {
    rom_get_sys_info_fn fn = (rom_get_sys_info_fn)rom_lookup(ROM_FUNC_GET_SYS_INFO);
    if (!fn) return 0;
    uint32_t buf[5];
    if (fn(buf, 5, SYS_INFO_BOOT_INFO) < 0) return 0;
    if (!(buf[0] & SYS_INFO_BOOT_INFO)) return 0;
    uint8_t partition = (buf[1] >> 16) & 0xFF;
    if (partition == 0xFF) return 0;
    return (int)partition;
}

static void rom_flash_write(uint32_t offset, const uint8_t *data, uint32_t len) {
    flash_connect_internal_fn connect = (flash_connect_internal_fn)rom_lookup(ROM_FUNC_CONNECT_INTERNAL_FLASH);
    flash_exit_xip_fn exit_xip       = (flash_exit_xip_fn)rom_lookup(ROM_FUNC_FLASH_EXIT_XIP);
    flash_range_program_fn program   = (flash_range_program_fn)rom_lookup(ROM_FUNC_FLASH_RANGE_PROGRAM);
    flash_flush_cache_fn flush       = (flash_flush_cache_fn)rom_lookup(ROM_FUNC_FLASH_FLUSH_CACHE);
    if (!connect || !exit_xip || !program || !flush) return;
    uint32_t status;
    __asm__ volatile ("mrs %0, primask" : "=r" (status));
    __asm__ volatile ("cpsid i");
    connect(); exit_xip(); program(offset, data, len); flush();
    __asm__ volatile ("msr primask, %0" : : "r" (status));
}

static void rom_flash_erase(uint32_t offset, uint32_t count) {
    flash_connect_internal_fn connect = (flash_connect_internal_fn)rom_lookup(ROM_FUNC_CONNECT_INTERNAL_FLASH);
    flash_exit_xip_fn exit_xip       = (flash_exit_xip_fn)rom_lookup(ROM_FUNC_FLASH_EXIT_XIP);
    flash_range_erase_fn erase       = (flash_range_erase_fn)rom_lookup(ROM_FUNC_FLASH_RANGE_ERASE);
    flash_flush_cache_fn flush       = (flash_flush_cache_fn)rom_lookup(ROM_FUNC_FLASH_FLUSH_CACHE);
    if (!connect || !exit_xip || !erase || !flush) return;
    uint32_t status;
    __asm__ volatile ("mrs %0, primask" : "=r" (status));
    __asm__ volatile ("cpsid i");
    connect(); exit_xip(); erase(offset, count, FLASH_SECTOR_SIZE, FLASH_SECTOR_ERASE_CMD); flush();
    __asm__ volatile ("msr primask, %0" : : "r" (status));
}
*/
import "C"

import (
	"errors"
	"unsafe"
)

// Partition indices for the device's two-partition A/B layout.
const (
	PartitionA = 0
	PartitionB = 1

	SectorSize = 4096
	PageSize   = 256
)

var errConfirmFailed = errors.New("rom: partition confirm failed")

// ConfirmPartition confirms the currently booted partition within the
// bootrom's try-before-you-buy window (16.7s), so it survives past
// the next reset without reverting.
func ConfirmPartition() error {
	if C.rom_confirm_partition() != 0 {
		return errConfirmFailed
	}
	return nil
}

// GetPartitionOffset returns the raw flash byte offset of a partition.
func GetPartitionOffset(partition int) uint32 {
	return uint32(C.rom_partition_offset(C.int(partition)))
}

// GetPartitionMaxSize returns the byte size available to either
// partition under the device's fixed layout.
func GetPartitionMaxSize() uint32 { return uint32(C.PARTITION_MAX_SIZE) }

// GetCurrentPartition returns which partition the device booted from.
func GetCurrentPartition() int { return int(C.rom_current_partition()) }

// GetTargetPartition returns the partition the next image should be
// written to: whichever one is not currently running.
func GetTargetPartition() int {
	if GetCurrentPartition() == PartitionA {
		return PartitionB
	}
	return PartitionA
}

// RebootToPartition reboots into the given partition via the bootrom's
// flash-update reboot type. Does not return on success.
func RebootToPartition(partition int) {
	C.rom_reboot_to_partition(C.int(partition))
}

// WriteChunk programs data at the given raw flash offset using the
// ROM's flash_range_program, bypassing machine.Flash's single-image
// offset assumption.
func WriteChunk(offset uint32, data []byte) error {
	if len(data) == 0 {
		return nil
	}
	C.rom_flash_write(C.uint32_t(offset), (*C.uint8_t)(&data[0]), C.uint32_t(len(data)))
	return nil
}

// EraseSector erases one 4KB sector at the given raw flash offset.
func EraseSector(offset uint32) error {
	C.rom_flash_erase(C.uint32_t(offset), C.uint32_t(SectorSize))
	return nil
}

// ReadChunk copies length bytes starting at the raw flash offset into
// out. Flash is memory-mapped for XIP reads, so this is a direct copy
// from the partition's XIP address rather than a ROM call.
func ReadChunk(offset uint32, out []byte) error {
	base := uintptr(C.XIP_BASE) + uintptr(offset)
	src := unsafe.Slice((*byte)(unsafe.Pointer(base)), len(out))
	copy(out, src)
	return nil
}
