package service

// registerHandlers installs every RPC method on the dispatcher.
func (b *Broker) registerHandlers() {
	d := b.dispatcher

	d.Register("devices.enumerate", b.handleDevicesEnumerate)
	d.Register("devices.get", b.handleDevicesGet)
	d.Register("devices.watch", b.handleDevicesWatch)
	d.Register("devices.unwatch", b.handleDevicesUnwatch)

	d.Register("printer.print", b.handlePrinterPrint)
	d.Register("printer.getStatus", b.handlePrinterGetStatus)
	d.Register("printer.getCapabilities", b.handlePrinterGetCapabilities)

	d.Register("serial.open", b.handleSerialOpen)
	d.Register("serial.close", b.handleSerialClose)
	d.Register("serial.send", b.handleSerialSend)
	d.Register("serial.receive", b.handleSerialReceive)
	d.Register("serial.getStatus", b.handleSerialGetStatus)

	d.Register("usb.open", b.handleUSBOpen)
	d.Register("usb.close", b.handleUSBClose)
	d.Register("usb.sendReport", b.handleUSBSendReport)
	d.Register("usb.receiveReport", b.handleUSBReceiveReport)
	d.Register("usb.getStatus", b.handleUSBGetStatus)

	d.Register("network.connect", b.handleNetworkConnect)
	d.Register("network.disconnect", b.handleNetworkDisconnect)
	d.Register("network.send", b.handleNetworkSend)
	d.Register("network.ping", b.handleNetworkPing)
	d.Register("network.discover", b.handleNetworkDiscover)
	d.Register("network.getStatus", b.handleNetworkGetStatus)

	d.Register("biometric.enroll", b.handleBiometricEnroll)
	d.Register("biometric.authenticate", b.handleBiometricAuthenticate)
	d.Register("biometric.identify", b.handleBiometricIdentify)
	d.Register("biometric.getUsers", b.handleBiometricGetUsers)
	d.Register("biometric.deleteUser", b.handleBiometricDeleteUser)
	d.Register("biometric.getStatus", b.handleBiometricGetStatus)

	d.Register("queue.getStatus", b.handleQueueGetStatus)
	d.Register("queue.getJobs", b.handleQueueGetJobs)
	d.Register("queue.submitJob", b.handleQueueSubmitJob)
	d.Register("queue.cancelJob", b.handleQueueCancelJob)
	d.Register("queue.retryJob", b.handleQueueRetryJob)

	d.Register("system.getInfo", b.handleSystemGetInfo)
	d.Register("system.getHealth", b.handleSystemGetHealth)

	d.Register("settings.get", b.handleSettingsGet)
	d.Register("settings.save", b.handleSettingsSave)
}
