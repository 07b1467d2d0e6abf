// Package dispatch implements the Command Dispatcher: the single path by
// which a logical command reaches a device.
//
// Dispatch runs these steps in order and stops at the first failure:
//
//  1. look up the device snapshot          -> device.ErrUnknownDevice
//  2. check the model's capability set     -> capability.ErrUnsupportedAction
//  3. power rule (off accepts power_on)    -> ErrDeviceNotReady
//  4. validate and normalise parameters    -> ErrInvalidPayload
//  5. wait for the device's command lock
//  6. invoke via the controller session    -> controller errors
//  7. apply the optimistic patch to the store
//
// Steps 1–4 never touch the network. Completed dispatches, successful or
// not, are handed to every configured Recorder.
package dispatch
