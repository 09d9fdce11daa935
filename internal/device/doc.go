// Package device provides the transport-neutral view of Bluetooth Low Energy
// peripherals used by the heart-rate bridge.
//
// The package defines:
//   - Adapter, Peripheral and Characteristic interfaces implemented by the
//     go-ble and tinygo backends
//   - the error taxonomy shared by scanning and connection management
//   - UUID normalization helpers and the Heart Rate GATT identifiers
package device
