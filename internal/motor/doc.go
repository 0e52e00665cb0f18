// Package motor defines the per-wheel motor channel used by the drive controller.
//
// A Channel is the controller's only view of a motor drive. Implementations talk
// to the motor-driver service (bus protocol, discovery and RPC live there) and
// must bound every call with the context deadline they are given.
//
// References:
//   - CiA 402: power drive system state machine (PowerState)
//   - IEC 61800-5-2: safety sub-functions STO, SDI, SLS (SafetyFunction)
package motor
