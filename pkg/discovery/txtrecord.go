package discovery

import (
	"fmt"
	"strconv"
	"strings"
)

// TXTRecordMap is a map of TXT record key-value pairs.
type TXTRecordMap map[string]string

// EncodeSyncTXT creates the TXT records of a sync advertisement.
func EncodeSyncTXT(info *SyncInfo) TXTRecordMap {
	txt := make(TXTRecordMap)

	txt[TXTKeyDeviceID] = info.DeviceID
	version := info.Version
	if version == 0 {
		version = ProtocolVersion
	}
	txt[TXTKeyVersion] = strconv.FormatUint(uint64(version), 10)
	txt[TXTKeyRoles] = encodeRoles(info.Roles)

	if len(info.Profiles) > 0 {
		txt[TXTKeyProfiles] = encodeProfiles(info.Profiles)
	}
	if info.DeviceName != "" {
		txt[TXTKeyDeviceName] = info.DeviceName
	}
	return txt
}

// DecodeSyncTXT parses the TXT records of a sync advertisement. Unknown
// roles are ignored so newer peers stay visible.
func DecodeSyncTXT(txt TXTRecordMap) (*SyncInfo, error) {
	info := &SyncInfo{}

	var ok bool
	info.DeviceID, ok = txt[TXTKeyDeviceID]
	if !ok || info.DeviceID == "" {
		return nil, fmt.Errorf("%w: %s", ErrMissingRequired, TXTKeyDeviceID)
	}
	if len(info.DeviceID) > MaxDeviceIDLen {
		return nil, ErrInvalidDeviceID
	}

	vStr, ok := txt[TXTKeyVersion]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMissingRequired, TXTKeyVersion)
	}
	v, err := strconv.ParseUint(vStr, 10, 8)
	if err != nil || v == 0 {
		return nil, fmt.Errorf("%w: %s=%q", ErrInvalidTXTRecord, TXTKeyVersion, vStr)
	}
	info.Version = uint8(v)

	rStr, ok := txt[TXTKeyRoles]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMissingRequired, TXTKeyRoles)
	}
	info.Roles = parseRoles(rStr)

	if pStr, ok := txt[TXTKeyProfiles]; ok && pStr != "" {
		info.Profiles, err = parseProfiles(pStr)
		if err != nil {
			return nil, err
		}
	}
	info.DeviceName = txt[TXTKeyDeviceName]
	return info, nil
}

func encodeRoles(roles []Role) string {
	parts := make([]string, len(roles))
	for i, r := range roles {
		parts[i] = string(r)
	}
	return strings.Join(parts, ",")
}

func parseRoles(s string) []Role {
	var roles []Role
	for _, part := range strings.Split(s, ",") {
		r := Role(strings.TrimSpace(part))
		if r.valid() {
			roles = append(roles, r)
		}
	}
	return roles
}

func encodeProfiles(profiles []uint32) string {
	parts := make([]string, len(profiles))
	for i, p := range profiles {
		parts[i] = strconv.FormatUint(uint64(p), 16)
	}
	return strings.Join(parts, ",")
}

func parseProfiles(s string) ([]uint32, error) {
	parts := strings.Split(s, ",")
	profiles := make([]uint32, 0, len(parts))
	for _, part := range parts {
		p, err := strconv.ParseUint(strings.TrimSpace(part), 16, 32)
		if err != nil {
			return nil, fmt.Errorf("%w: %s=%q", ErrInvalidTXTRecord, TXTKeyProfiles, s)
		}
		profiles = append(profiles, uint32(p))
	}
	return profiles, nil
}

// TXTRecordsToStrings converts a TXTRecordMap to a slice of "key=value" strings.
func TXTRecordsToStrings(txt TXTRecordMap) []string {
	result := make([]string, 0, len(txt))
	for k, v := range txt {
		result = append(result, fmt.Sprintf("%s=%s", k, v))
	}
	return result
}

// StringsToTXTRecords parses a slice of "key=value" strings into a TXTRecordMap.
func StringsToTXTRecords(strs []string) TXTRecordMap {
	txt := make(TXTRecordMap)
	for _, s := range strs {
		parts := strings.SplitN(s, "=", 2)
		if len(parts) == 2 {
			txt[parts[0]] = parts[1]
		} else if len(parts) == 1 && parts[0] != "" {
			// Key without value (boolean flag)
			txt[parts[0]] = ""
		}
	}
	return txt
}

// InstanceName returns the DNS-SD instance name for info, truncated to the
// label limit.
func InstanceName(info *SyncInfo) string {
	name := info.DeviceName
	if name == "" {
		name = "MASH-" + info.DeviceID
	}
	if len(name) > MaxInstanceNameLen {
		name = name[:MaxInstanceNameLen]
	}
	return name
}

// ValidateInstanceName checks if an instance name is valid for mDNS.
func ValidateInstanceName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: empty name", ErrInstanceNameTooLong)
	}
	if len(name) > MaxInstanceNameLen {
		return ErrInstanceNameTooLong
	}
	return nil
}
